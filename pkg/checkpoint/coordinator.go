// Package checkpoint decides when the print run and its current cycle are
// written to durable storage, and restores them after a restart.
//
// Writes happen at every cycle transition and periodically while a cycle is
// active. A failed or overrunning write never stops the press: the
// coordinator turns degraded, keeps the snapshot and retries it on the next
// tick.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/itohio/heatpress/pkg/press"
	"github.com/itohio/heatpress/pkg/storage"
)

var (
	// ErrWriteTimeout is returned when a storage call overruns Options.WriteTimeout.
	ErrWriteTimeout = errors.New("checkpoint: storage write timed out")
	// ErrBusy is returned while an overrunning storage call is still outstanding.
	ErrBusy = errors.New("checkpoint: previous storage write still in progress")
)

// Store is the durable storage the coordinator writes to.
type Store interface {
	SaveSettings(press.Settings) error
	LoadSettings() (press.Settings, error)
	SaveCheckpoint(press.Checkpoint) error
	LoadCheckpoint() (press.Checkpoint, error)
	HasSavedData() bool
	ClearCheckpoint() error
}

// Options configure a Coordinator.
type Options struct {
	Interval     time.Duration // Periodic save while a cycle is active
	WriteTimeout time.Duration // 0 waits for the store
	Logger       hclog.Logger
}

// Coordinator serialises checkpoint writes to a Store.
type Coordinator struct {
	store Store
	opts  Options
	log   hclog.Logger

	mu           sync.Mutex
	pending      *press.Checkpoint // Snapshot whose write failed
	clearPending bool
	lastSave     time.Time
	hasSaved     bool
	degraded     bool
	failures     int
	inflight     chan error // Storage call still running after a timeout
}

// New creates a coordinator over store.
func New(store Store, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		store: store,
		opts:  opts,
		log:   logger.Named("checkpoint"),
	}
}

// SaveSettings validates and persists s.
func (c *Coordinator) SaveSettings(s press.Settings) error {
	if err := press.ValidateSettings(s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.do(func() error { return c.store.SaveSettings(s) }); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, or defaults when none are stored
// or the stored ones are unusable.
func (c *Coordinator) LoadSettings(defaults press.Settings) press.Settings {
	s, err := c.store.LoadSettings()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.log.Info("no stored settings, using defaults")
		return defaults
	case err != nil:
		c.log.Warn("stored settings unreadable, using defaults", "error", err)
		return defaults
	}

	if err := press.ValidateSettings(s); err != nil {
		c.log.Warn("stored settings invalid, using defaults", "error", err)
		return defaults
	}
	return s
}

// Record persists cp at a cycle transition. On failure the snapshot is kept
// for the next Tick and the error is returned for logging.
func (c *Coordinator) Record(cp press.Checkpoint, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearPending = false
	c.pending = &cp
	return c.flush(cp.SavedAt, reason)
}

// Tick retries a failed write and, while a cycle is active, saves cp every
// Interval. cp is the current snapshot and supersedes any pending one.
func (c *Coordinator) Tick(cp press.Checkpoint, active bool, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clearPending {
		return c.clear()
	}

	if c.pending != nil {
		c.pending = &cp
		return c.flush(now, "retry")
	}

	if !active {
		return nil
	}
	elapsed := now.Sub(c.lastSave)
	if c.hasSaved && elapsed >= 0 && elapsed < c.opts.Interval {
		return nil
	}
	c.pending = &cp
	return c.flush(now, "periodic")
}

// Clear removes the run record. A failed clear is retried on the next Tick
// unless a new record supersedes it.
func (c *Coordinator) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	c.clearPending = true
	return c.clear()
}

// Recover loads the saved checkpoint and reconciles it against now. It
// returns false when there is nothing to resume; unreadable, invalid or
// finished records are discarded.
func (c *Coordinator) Recover(now time.Time) (press.Checkpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.HasSavedData() {
		return press.Checkpoint{}, false
	}

	cp, err := c.store.LoadCheckpoint()
	if err != nil {
		c.log.Warn("discarding unreadable checkpoint", "error", err)
		c.discard()
		return press.Checkpoint{}, false
	}
	if err := cp.Validate(); err != nil {
		c.log.Warn("discarding invalid checkpoint", "error", err)
		c.discard()
		return press.Checkpoint{}, false
	}
	if cp.Run.Complete() {
		c.log.Info("previous run had finished, discarding checkpoint", "run", cp.Run.ID)
		c.discard()
		return press.Checkpoint{}, false
	}

	if cp.Cycle != nil {
		stageStart := cp.Cycle.StageStart
		if reconcile(&cp, now) {
			c.log.Warn("clock is behind the saved stage start, re-anchoring cycle",
				"now", now, "stage_start", stageStart, "saved_at", cp.SavedAt)
		}
	}

	c.hasSaved = true
	c.lastSave = now
	return cp, true
}

// Degraded reports whether the last storage write failed.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Failures returns the number of consecutive failed writes.
func (c *Coordinator) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Pending reports whether a snapshot is waiting to be written.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil || c.clearPending
}

func (c *Coordinator) flush(now time.Time, reason string) error {
	cp := *c.pending
	if err := c.do(func() error { return c.store.SaveCheckpoint(cp) }); err != nil {
		c.fail(reason, err)
		return fmt.Errorf("checkpoint %s: %w", reason, err)
	}

	c.pending = nil
	c.hasSaved = true
	c.lastSave = now
	c.succeed()
	c.log.Trace("checkpoint saved", "reason", reason, "run", cp.Run.ID, "progress", cp.Run.Progress)
	return nil
}

func (c *Coordinator) clear() error {
	if err := c.do(c.store.ClearCheckpoint); err != nil {
		c.fail("clear", err)
		return fmt.Errorf("checkpoint clear: %w", err)
	}
	c.clearPending = false
	c.hasSaved = false
	c.succeed()
	return nil
}

// discard drops an unusable record. Failure only costs a warning on the
// next start.
func (c *Coordinator) discard() {
	if err := c.do(c.store.ClearCheckpoint); err != nil {
		c.log.Warn("failed to discard checkpoint", "error", err)
	}
}

func (c *Coordinator) fail(reason string, err error) {
	c.failures++
	if !c.degraded {
		c.log.Warn("checkpoint storage degraded", "reason", reason, "error", err)
	} else {
		c.log.Debug("checkpoint write failed again", "reason", reason, "failures", c.failures, "error", err)
	}
	c.degraded = true
}

func (c *Coordinator) succeed() {
	if c.degraded {
		c.log.Info("checkpoint storage recovered", "failures", c.failures)
	}
	c.degraded = false
	c.failures = 0
}

// do runs fn on its own goroutine, bounded by WriteTimeout. At most one
// storage call is outstanding; while an overrun call is still running
// further calls fail with ErrBusy.
func (c *Coordinator) do(fn func() error) error {
	if c.inflight != nil {
		select {
		case <-c.inflight:
			// Its outcome is superseded by this call.
			c.inflight = nil
		default:
			return ErrBusy
		}
	}

	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()

	if c.opts.WriteTimeout <= 0 {
		return <-ch
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		c.inflight = ch
		return fmt.Errorf("%w after %v", ErrWriteTimeout, c.opts.WriteTimeout)
	}
}

// reconcile adjusts an active cycle whose stage starts after now, which
// happens when the clock went backwards across a restart. The stage is
// re-anchored so the time it had run at SavedAt is preserved. It reports
// whether cp was changed.
func reconcile(cp *press.Checkpoint, now time.Time) bool {
	c := cp.Cycle
	if c == nil || !c.Status.Active() || !now.Before(c.StageStart) {
		return false
	}

	elapsed := max(cp.SavedAt.Sub(c.StageStart), 0)
	stageStart := now.Add(-elapsed)
	offset := stageStart.Sub(c.StageStart)

	c.StartTime = c.StartTime.Add(offset)
	c.StageStart = stageStart
	return true
}
