// Package thermal watches the platen temperature for runaway and for heating
// that makes no progress.
package thermal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/heatpress/pkg/config"
)

var (
	ErrThermalRunaway = errors.New("thermal: runaway detected")
	ErrHeatingFailed  = errors.New("thermal: heating failed")
)

// Point is one temperature observation.
type Point struct {
	Time        time.Time
	Temperature float64
}

// Watchdog keeps a time window of temperatures and checks them against the
// target while the heater is enabled.
type Watchdog struct {
	cfg config.SafetyConfig

	mu      sync.Mutex
	history []Point // Oldest first, trimmed by timestamp

	// Heating progress tracking
	tracking     bool
	progressTemp float64
	progressTime time.Time
}

// New creates a new Watchdog.
func New(cfg config.SafetyConfig) *Watchdog {
	return &Watchdog{
		cfg:     cfg,
		history: make([]Point, 0),
	}
}

// Check records temp and returns ErrThermalRunaway or ErrHeatingFailed when
// heating and the platen is out of bounds. Nothing is checked while heating
// is disabled.
func (w *Watchdog) Check(target, temp float64, now time.Time, heating bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.add(Point{Time: now, Temperature: temp})

	if !heating {
		w.tracking = false
		return nil
	}

	if temp > target+w.cfg.RunawayMargin {
		return fmt.Errorf("%w: %.1f°C exceeds target %.1f°C by more than %.1f°C",
			ErrThermalRunaway, temp, target, w.cfg.RunawayMargin)
	}

	// Close enough to target, nothing to prove.
	if temp >= target-w.cfg.ProgressMargin {
		w.tracking = false
		return nil
	}

	if !w.tracking || temp >= w.progressTemp+w.cfg.MinRise {
		w.tracking = true
		w.progressTemp = temp
		w.progressTime = now
		return nil
	}

	if now.Sub(w.progressTime) > w.cfg.ProgressTimeout {
		return fmt.Errorf("%w: no %.1f°C rise from %.1f°C within %v (now %.1f°C, target %.1f°C)",
			ErrHeatingFailed, w.cfg.MinRise, w.progressTemp, w.cfg.ProgressTimeout, temp, target)
	}
	return nil
}

// Rate returns the temperature change in °C/s across the window.
func (w *Watchdog) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.history) < 2 {
		return 0
	}
	first, last := w.history[0], w.history[len(w.history)-1]
	dt := last.Time.Sub(first.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.Temperature - first.Temperature) / dt
}

// History returns a copy of the window, oldest first.
func (w *Watchdog) History() []Point {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Point, len(w.history))
	copy(out, w.history)
	return out
}

// Reset clears the window and the progress tracking.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.history = w.history[:0]
	w.tracking = false
	w.progressTemp = 0
	w.progressTime = time.Time{}
}

// add appends p and drops points that fell out of the window.
func (w *Watchdog) add(p Point) {
	// A clock step backwards invalidates the window.
	if n := len(w.history); n > 0 && p.Time.Before(w.history[n-1].Time) {
		w.history = w.history[:0]
		w.tracking = false
	}
	w.history = append(w.history, p)

	cutoff := p.Time.Add(-w.cfg.Window)
	cutoffIndex := 0
	for i, h := range w.history {
		if !h.Time.Before(cutoff) {
			cutoffIndex = i
			break
		}
	}
	if cutoffIndex > 0 {
		w.history = w.history[cutoffIndex:]
	}
}
