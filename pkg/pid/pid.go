// Package pid implements the platen temperature control loop.
//
// A Controller turns temperature readings into an actuator power command.
// It owns its integral accumulator, previous error and last sample time, so
// several independent loops may run side by side and tests stay
// deterministic. It never touches hardware.
package pid

import (
	"math"
	"time"
)

// Config holds the loop gains, setpoint and output bounds.
type Config struct {
	Kp        float64
	Ki        float64
	Kd        float64
	Target    float64
	OutputMin float64
	OutputMax float64
}

// DefaultConfig returns a loop commanding 0..100 % power.
func DefaultConfig() Config {
	return Config{
		OutputMin: 0,
		OutputMax: 100,
	}
}

// Terms exposes the components of the last computed output.
type Terms struct {
	Error      float64
	Integral   float64
	Derivative float64
	Output     float64
}

// Controller is a PID controller with integral anti-windup.
type Controller struct {
	cfg Config

	integral  float64
	prevError float64
	lastTime  time.Time
	hasLast   bool // lastTime is meaningful; a zero timestamp is a valid sample time
	output    float64
	hasOutput bool
	terms     Terms
}

// New returns an initialized controller.
func New(cfg Config) *Controller {
	c := &Controller{}
	c.Initialize(cfg)
	return c
}

// Initialize applies cfg and resets the loop state.
func (c *Controller) Initialize(cfg Config) {
	if cfg.OutputMax < cfg.OutputMin {
		cfg.OutputMin, cfg.OutputMax = cfg.OutputMax, cfg.OutputMin
	}
	c.cfg = cfg
	c.Reset()
}

// Reset clears the accumulator, previous error and last sample time.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevError = 0
	c.lastTime = time.Time{}
	c.hasLast = false
	c.output = 0
	c.hasOutput = false
	c.terms = Terms{}
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// SetTarget changes the setpoint without resetting the loop.
func (c *Controller) SetTarget(target float64) {
	c.cfg.Target = target
}

// SetGains retunes the loop without resetting the loop state.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.cfg.Kp = kp
	c.cfg.Ki = ki
	c.cfg.Kd = kd
}

// Terms returns the components of the last output.
func (c *Controller) Terms() Terms {
	return c.terms
}

// Update computes the power command for the reading current taken at now.
//
// The first call after Initialize only records the sample and reports
// ok == false: there is no interval to integrate or differentiate over yet.
// Samples with dt <= 0 or a non-finite reading leave the state untouched and
// repeat the previous output.
func (c *Controller) Update(current float64, now time.Time) (output float64, ok bool) {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return c.output, c.hasOutput
	}

	err := c.cfg.Target - current
	if !c.hasLast {
		c.lastTime = now
		c.hasLast = true
		c.prevError = err
		return 0, false
	}

	dt := now.Sub(c.lastTime).Seconds()
	if dt <= 0 {
		return c.output, c.hasOutput
	}

	c.integral = clamp(c.integral+err*dt, c.cfg.OutputMin, c.cfg.OutputMax)
	derivative := (err - c.prevError) / dt

	out := c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*derivative
	if math.IsNaN(out) {
		out = c.cfg.OutputMin
	}
	out = clamp(out, c.cfg.OutputMin, c.cfg.OutputMax)

	c.prevError = err
	c.lastTime = now
	c.output = out
	c.hasOutput = true
	c.terms = Terms{Error: err, Integral: c.integral, Derivative: derivative, Output: out}
	return out, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
