package sample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/heatpress/pkg/device"
)

// ErrTimeout is returned when the sensor does not answer within Options.Timeout.
var ErrTimeout = errors.New("sample: sensor read timed out")

// Reading is a platen temperature as seen by the control loop.
type Reading struct {
	Timestamp   time.Time
	Temperature float64 // °C, averaged when averaging is enabled
	Stale       bool    // Last good value reused after a failed read
}

// Options bound a Reader.
type Options struct {
	Timeout        time.Duration // Per read; 0 waits for the sensor or ctx
	MaxFaults      int           // Consecutive failures answered with the last good value
	AverageSamples int           // Moving average window; 0 or 1 disables averaging
}

type result struct {
	temp float64
	err  error
}

// Reader wraps a sensor with a bounded read, a last-known-good fallback and a
// fault budget.
type Reader struct {
	sensor device.Sensor
	opts   Options

	mu      sync.Mutex
	window  []float64
	last    Reading
	hasLast bool
	faults  int
	pending chan result // Read still running after a timeout
}

// NewReader creates a reader over sensor.
func NewReader(sensor device.Sensor, opts Options) *Reader {
	if opts.MaxFaults < 0 {
		opts.MaxFaults = 0
	}
	if opts.AverageSamples <= 0 {
		opts.AverageSamples = 1
	}
	return &Reader{
		sensor: sensor,
		opts:   opts,
		window: make([]float64, 0, opts.AverageSamples),
	}
}

// Read returns the current temperature. A failed read yields the last good
// value marked Stale until more than MaxFaults consecutive reads have failed;
// from then on the error wraps device.ErrSensorFault.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	temp, err := r.read(ctx)
	if err == nil && (math.IsNaN(temp) || math.IsInf(temp, 0)) {
		err = fmt.Errorf("non-finite temperature %v", temp)
	}

	if err == nil {
		r.faults = 0
		r.window = append(r.window, temp)
		if len(r.window) > r.opts.AverageSamples {
			r.window = r.window[1:] // Remove oldest
		}
		r.last = Reading{Timestamp: time.Now(), Temperature: average(r.window)}
		r.hasLast = true
		return r.last, nil
	}

	r.faults++
	if r.hasLast && r.faults <= r.opts.MaxFaults {
		stale := r.last
		stale.Stale = true
		return stale, nil
	}

	// The average restarts once the sensor recovers.
	r.window = r.window[:0]
	if errors.Is(err, device.ErrSensorFault) {
		return Reading{}, fmt.Errorf("%d consecutive failures: %w", r.faults, err)
	}
	return Reading{}, fmt.Errorf("%w: %d consecutive failures: %w", device.ErrSensorFault, r.faults, err)
}

// Faults returns the number of consecutive failed reads.
func (r *Reader) Faults() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.faults
}

// Reset forgets the last good value, the average and the fault count.
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = r.window[:0]
	r.last = Reading{}
	r.hasLast = false
	r.faults = 0
}

// read calls the sensor on its own goroutine so a hung sensor cannot stall
// the caller. At most one call is outstanding.
func (r *Reader) read(ctx context.Context) (float64, error) {
	if r.pending != nil {
		select {
		case <-r.pending:
			// Too late to be useful, start a fresh read.
			r.pending = nil
		default:
			return 0, fmt.Errorf("%w: previous read still outstanding", ErrTimeout)
		}
	}

	ch := make(chan result, 1)
	go func() {
		temp, err := r.sensor.ReadTemperature()
		ch <- result{temp: temp, err: err}
	}()

	var timeout <-chan time.Time
	if r.opts.Timeout > 0 {
		timer := time.NewTimer(r.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		return res.temp, res.err
	case <-timeout:
		r.pending = ch
		return 0, fmt.Errorf("%w after %v", ErrTimeout, r.opts.Timeout)
	case <-ctx.Done():
		r.pending = ch
		return 0, ctx.Err()
	}
}

// average returns the mean of the window.
func average(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}
