// Package control runs the press: a thermal task that drives the heater
// through the PID loop behind the heating interlock, and a cycle task that
// sequences pressing cycles across the print run and checkpoints them.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/itohio/heatpress/pkg/config"
	"github.com/itohio/heatpress/pkg/device"
	"github.com/itohio/heatpress/pkg/pid"
	"github.com/itohio/heatpress/pkg/press"
	"github.com/itohio/heatpress/pkg/sample"
	"github.com/itohio/heatpress/pkg/thermal"
)

// Abort reasons recorded on the cycle.
const (
	ReasonOperator       = "operator"
	ReasonSensorFault    = "sensor_fault"
	ReasonThermalRunaway = "thermal_runaway"
	ReasonHeatingFailed  = "heating_failed"
)

// Reader supplies platen temperatures within bounded time.
type Reader interface {
	Read(ctx context.Context) (sample.Reading, error)
}

// Watchdog vets each temperature against the target.
type Watchdog interface {
	Check(target, temp float64, now time.Time, heating bool) error
	Rate() float64
}

// Checkpointer persists settings and run progress.
type Checkpointer interface {
	SaveSettings(press.Settings) error
	Record(cp press.Checkpoint, reason string) error
	Tick(cp press.Checkpoint, active bool, now time.Time) error
	Clear() error
	Recover(now time.Time) (press.Checkpoint, bool)
	Degraded() bool
	Failures() int
}

// Options wire a Controller.
type Options struct {
	Settings     press.Settings
	Actuator     device.Actuator
	Reader       Reader
	Checkpointer Checkpointer
	Watchdog     Watchdog // Optional
	Config       config.ControlConfig
	Logger       hclog.Logger
	Clock        press.Clock // Defaults to the system clock
}

// Controller is the press control core.
type Controller struct {
	actuator device.Actuator
	reader   Reader
	store    Checkpointer
	watchdog Watchdog
	cfg      config.ControlConfig
	clock    press.Clock
	log      hclog.Logger

	settings atomic.Pointer[press.Settings]
	heating  atomic.Bool

	// Owned by the thermal task.
	pid     *pid.Controller
	applied *press.Settings

	// Guards machine and tracker.
	mu      sync.Mutex
	machine *press.Machine
	tracker *press.Tracker

	statMu   sync.RWMutex
	reading  sample.Reading
	power    uint8
	readErr  error
	tickFail map[string]bool
}

// New creates a controller. The settings must be valid.
func New(opts Options) (*Controller, error) {
	if err := press.ValidateSettings(opts.Settings); err != nil {
		return nil, err
	}
	if opts.Actuator == nil || opts.Reader == nil || opts.Checkpointer == nil {
		return nil, fmt.Errorf("%w: actuator, reader and checkpointer are required", press.ErrConfig)
	}
	if opts.Clock == nil {
		opts.Clock = press.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := opts.Settings
	c := &Controller{
		actuator: opts.Actuator,
		reader:   opts.Reader,
		store:    opts.Checkpointer,
		watchdog: opts.Watchdog,
		cfg:      opts.Config,
		clock:    opts.Clock,
		log:      logger.Named("control"),
		pid: pid.New(pid.Config{
			Kp:        s.Kp,
			Ki:        s.Ki,
			Kd:        s.Kd,
			Target:    s.TargetTemp,
			OutputMin: opts.Config.OutputMin,
			OutputMax: opts.Config.OutputMax,
		}),
		machine:  press.NewMachine(),
		tickFail: make(map[string]bool),
	}
	c.settings.Store(&s)
	c.applied = &s
	return c, nil
}

// Settings returns the active settings.
func (c *Controller) Settings() press.Settings {
	return *c.settings.Load()
}

// HeatingEnabled reports the state of the heating interlock.
func (c *Controller) HeatingEnabled() bool {
	return c.heating.Load()
}

// ControlTick is the thermal task: read the platen, vet it, and command the
// heater. The heater is commanded off whenever the interlock is closed.
func (c *Controller) ControlTick(ctx context.Context, now time.Time) error {
	s := c.settings.Load()
	if s != c.applied {
		c.pid.SetTarget(s.TargetTemp)
		c.pid.SetGains(s.Kp, s.Ki, s.Kd)
		c.applied = s
	}

	reading, err := c.reader.Read(ctx)
	c.statMu.Lock()
	c.readErr = err
	if err == nil {
		c.reading = reading
	}
	c.statMu.Unlock()

	if err != nil {
		c.command(0)
		c.pid.Reset()
		if c.heating.Load() {
			c.Abort(ReasonSensorFault, now)
			return fmt.Errorf("cycle aborted: %w", err)
		}
		return err
	}

	heating := c.heating.Load()
	if c.watchdog != nil {
		if err := c.watchdog.Check(s.TargetTemp, reading.Temperature, now, heating); err != nil {
			reason := ReasonHeatingFailed
			if errors.Is(err, thermal.ErrThermalRunaway) {
				reason = ReasonThermalRunaway
			}
			c.Abort(reason, now)
			return fmt.Errorf("cycle aborted: %w", err)
		}
	}

	out, ok := c.pid.Update(reading.Temperature, now)
	var power uint8
	if ok && heating {
		power = toPercent(out)
	}
	c.command(power)

	// An abort may have closed the interlock while the command was in flight.
	if power > 0 && !c.heating.Load() {
		c.command(0)
	}

	c.log.Trace("control tick", "temp", reading.Temperature, "stale", reading.Stale,
		"target", s.TargetTemp, "output", out, "power", power)
	return nil
}

// CycleTick is the cycle task: advance the active cycle, fold completions
// into the run and checkpoint.
func (c *Controller) CycleTick(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracker == nil {
		return nil
	}

	tr, fired := c.machine.Tick(now)
	if !fired {
		return c.store.Tick(c.snapshot(now), c.machine.HeatingEnabled(), now)
	}

	c.heating.Store(c.machine.HeatingEnabled())
	if !c.machine.HeatingEnabled() {
		c.command(0)
	}
	c.log.Info("cycle transition", "shirt", tr.Cycle.ShirtID, "side", tr.Cycle.Side,
		"from", tr.From, "to", tr.To)

	var errs []error
	if tr.To == press.StatusComplete {
		if err := c.tracker.Advance(tr.Cycle); err != nil {
			c.log.Error("completed cycle rejected by run", "error", err)
			errs = append(errs, err)
		}
	}
	if err := c.store.Record(c.snapshot(now), tr.To.String()); err != nil {
		errs = append(errs, err)
	}

	if tr.To == press.StatusComplete {
		run := c.tracker.Run()
		if c.tracker.IsRunComplete() {
			c.log.Info("print run complete", "run", run.ID, "shirts", run.ShirtsCompleted,
				"elapsed", time.Duration(run.TimeElapsed)*time.Second,
				"avg_per_shirt", time.Duration(run.AvgTimePerShirt)*time.Second)
			if err := c.store.Clear(); err != nil {
				errs = append(errs, err)
			}
		} else if c.cfg.AutoAdvance {
			s := c.settings.Load()
			if _, err := c.startCycle(now, s.Stage1Default, s.Stage2Default); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StartRun begins a new print run. Any previous run is abandoned.
func (c *Controller) StartRun(id uint32, shirts uint16, runType press.RunType, now time.Time) (press.PrintRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.machine.HeatingEnabled() {
		cycle, _ := c.machine.Cycle()
		return press.PrintRun{}, fmt.Errorf("%w: shirt %d %s in %s", press.ErrCycleActive, cycle.ShirtID, cycle.Side, cycle.Status)
	}

	run, err := press.NewPrintRun(id, shirts, runType)
	if err != nil {
		return press.PrintRun{}, err
	}
	tracker, err := press.NewTracker(run)
	if err != nil {
		return press.PrintRun{}, err
	}

	c.tracker = tracker
	c.machine.Clear()
	c.log.Info("print run started", "run", id, "shirts", shirts, "type", runType)

	// A failed write is retried by the cycle task.
	c.store.Record(c.snapshot(now), "run start")
	return run, nil
}

// StartNextCycle starts the next cycle of the run with the default stage
// durations.
func (c *Controller) StartNextCycle(now time.Time) (press.Transition, error) {
	s := c.settings.Load()
	return c.StartCycle(now, s.Stage1Default, s.Stage2Default)
}

// StartCycle starts the next cycle of the run with the given stage durations.
func (c *Controller) StartCycle(now time.Time, stage1, stage2 uint16) (press.Transition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCycle(now, stage1, stage2)
}

func (c *Controller) startCycle(now time.Time, stage1, stage2 uint16) (press.Transition, error) {
	if c.tracker == nil {
		return press.Transition{}, fmt.Errorf("%w: start a run first", press.ErrNoRun)
	}
	shirt, side, ok := c.tracker.NextCycle()
	if !ok {
		return press.Transition{}, fmt.Errorf("%w: run %d is complete", press.ErrNoRun, c.tracker.Run().ID)
	}

	tr, err := c.machine.Begin(shirt, side, stage1, stage2, now)
	if err != nil {
		return press.Transition{}, err
	}
	c.heating.Store(true)
	c.log.Info("cycle started", "shirt", shirt, "side", side, "stage1", stage1, "stage2", stage2)

	c.store.Record(c.snapshot(now), tr.To.String())
	return tr, nil
}

// Abort forces the heater off and ends the active cycle as aborted. The
// heater is switched off first, without taking any lock, even when there is
// no cycle to abort. It reports whether a cycle was aborted.
func (c *Controller) Abort(reason string, now time.Time) (bool, error) {
	c.heating.Store(false)
	shutoffErr := c.actuator.EmergencyShutoff()
	if shutoffErr != nil {
		c.log.Error("emergency shutoff failed", "error", shutoffErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tr, ok := c.machine.Abort(reason, now)
	if !ok {
		return false, shutoffErr
	}
	c.log.Warn("cycle aborted", "shirt", tr.Cycle.ShirtID, "side", tr.Cycle.Side,
		"stage", tr.From, "reason", tr.Cycle.AbortReason)

	c.store.Record(c.snapshot(now), tr.To.String())
	return true, shutoffErr
}

// UpdateSettings validates and persists s, then swaps it in. Settings that
// fail either step are never applied.
func (c *Controller) UpdateSettings(s press.Settings) error {
	if err := press.ValidateSettings(s); err != nil {
		return err
	}
	if err := c.store.SaveSettings(s); err != nil {
		return err
	}
	c.settings.Store(&s)
	c.log.Info("settings updated", "target", s.TargetTemp, "kp", s.Kp, "ki", s.Ki, "kd", s.Kd,
		"stage1", s.Stage1Default, "stage2", s.Stage2Default)
	return nil
}

// Recover restores the run and cycle from the last checkpoint. It reports
// whether there was anything to resume.
func (c *Controller) Recover(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.store.Recover(now)
	if !ok {
		return false
	}

	tracker, err := press.NewTracker(cp.Run)
	if err != nil {
		c.log.Error("recovered run rejected", "error", err)
		return false
	}
	c.tracker = tracker

	c.machine.Clear()
	if cp.Cycle != nil {
		if err := c.machine.Restore(*cp.Cycle); err != nil {
			c.log.Error("recovered cycle rejected", "error", err)
		}
	}
	c.heating.Store(c.machine.HeatingEnabled())

	run := tracker.Run()
	cycle, _ := c.machine.Cycle()
	c.log.Info("resumed print run", "run", run.ID, "progress", run.Progress, "of", run.NumShirts,
		"cycle", cycle.Status, "remaining", c.machine.Remaining(now))
	return true
}

// Run executes both tasks on the calling goroutine until ctx is done, then
// commands the heater off.
func (c *Controller) Run(ctx context.Context) error {
	controlTicker := time.NewTicker(c.cfg.ControlPeriod)
	defer controlTicker.Stop()
	cycleTicker := time.NewTicker(c.cfg.CyclePeriod)
	defer cycleTicker.Stop()

	defer func() {
		c.heating.Store(false)
		if err := c.actuator.SetPower(0); err != nil {
			c.log.Error("failed to switch heater off on exit", "error", err)
		}
		c.log.Info("control loop stopped")
	}()

	c.log.Info("control loop started", "control_period", c.cfg.ControlPeriod, "cycle_period", c.cfg.CyclePeriod)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-controlTicker.C:
			c.report("control", c.ControlTick(ctx, c.clock.Now()))
		case <-cycleTicker.C:
			c.report("cycle", c.CycleTick(ctx, c.clock.Now()))
		}
	}
}

// report logs the first failure of a task and its recovery, not every tick.
func (c *Controller) report(task string, err error) {
	c.statMu.Lock()
	failing := c.tickFail[task]
	c.tickFail[task] = err != nil
	c.statMu.Unlock()

	switch {
	case err != nil && !failing:
		c.log.Warn("task failing", "task", task, "error", err)
	case err != nil:
		c.log.Debug("task still failing", "task", task, "error", err)
	case failing:
		c.log.Info("task recovered", "task", task)
	}
}

// command sets the heater power, logging failures. The heater is commanded
// off if the interlock is closed.
func (c *Controller) command(power uint8) {
	if !c.heating.Load() {
		power = 0
	}
	if err := c.actuator.SetPower(power); err != nil {
		c.log.Debug("set power failed", "power", power, "error", err)
	}
	c.statMu.Lock()
	c.power = power
	c.statMu.Unlock()
}

// snapshot must be called with mu held and a run present.
func (c *Controller) snapshot(now time.Time) press.Checkpoint {
	cp := press.Checkpoint{Run: c.tracker.Run(), SavedAt: now}
	if cycle, ok := c.machine.Cycle(); ok {
		cp.Cycle = &cycle
	}
	return cp
}

func toPercent(out float64) uint8 {
	if math.IsNaN(out) || out <= 0 {
		return 0
	}
	if out >= 100 {
		return 100
	}
	return uint8(math.Round(out))
}
