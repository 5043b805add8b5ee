package control

import (
	"time"

	"github.com/itohio/heatpress/pkg/press"
)

// Status is a point-in-time view of the press.
type Status struct {
	Target      float64
	Temperature float64
	Stale       bool
	SensorError error
	Power       uint8
	Heating     bool
	Rate        float64 // °C/s, 0 without a watchdog

	Cycle     *press.PressingCycle
	Remaining time.Duration
	Run       *press.PrintRun

	Degraded           bool
	CheckpointFailures int
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	now := c.clock.Now()
	st := Status{
		Target:             c.settings.Load().TargetTemp,
		Heating:            c.heating.Load(),
		Degraded:           c.store.Degraded(),
		CheckpointFailures: c.store.Failures(),
	}
	if c.watchdog != nil {
		st.Rate = c.watchdog.Rate()
	}

	c.statMu.RLock()
	st.Temperature = c.reading.Temperature
	st.Stale = c.reading.Stale
	st.SensorError = c.readErr
	st.Power = c.power
	c.statMu.RUnlock()

	c.mu.Lock()
	if cycle, ok := c.machine.Cycle(); ok {
		st.Cycle = &cycle
		st.Remaining = c.machine.Remaining(now)
	}
	if c.tracker != nil {
		run := c.tracker.Run()
		st.Run = &run
	}
	c.mu.Unlock()

	return st
}
