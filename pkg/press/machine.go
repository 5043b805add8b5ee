package press

import (
	"fmt"
	"time"
)

// Transition describes a single state change of the active cycle.
type Transition struct {
	From  Status
	To    Status
	Cycle PressingCycle // Cycle after the transition
}

func (t Transition) String() string {
	return fmt.Sprintf("shirt %d %s: %s -> %s", t.Cycle.ShirtID, t.Cycle.Side, t.From, t.To)
}

// Machine sequences one pressing cycle through its stages. It owns the cycle
// exclusively; absence of a cycle is a valid state.
//
// Machine is not safe for concurrent use; the controller serializes access.
type Machine struct {
	cycle *PressingCycle
}

// NewMachine returns a machine with no cycle.
func NewMachine() *Machine {
	return &Machine{}
}

// Cycle returns a copy of the current cycle, if any.
func (m *Machine) Cycle() (PressingCycle, bool) {
	if m.cycle == nil {
		return PressingCycle{}, false
	}
	return *m.cycle, true
}

// Status returns the status of the current cycle, StatusIdle when there is none.
func (m *Machine) Status() Status {
	if m.cycle == nil {
		return StatusIdle
	}
	return m.cycle.Status
}

// HeatingEnabled is the heating interlock: true only while pressing.
func (m *Machine) HeatingEnabled() bool {
	return m.Status().Active()
}

// Begin starts a new cycle in STAGE1 at now. A finished cycle is discarded;
// its summary must already have been folded into the run.
func (m *Machine) Begin(shirtID uint16, side Side, stage1, stage2 uint16, now time.Time) (Transition, error) {
	if stage1 == 0 || stage2 == 0 {
		return Transition{}, fmt.Errorf("%w: stage1=%ds stage2=%ds", ErrInvalidDuration, stage1, stage2)
	}
	if shirtID == 0 {
		return Transition{}, fmt.Errorf("%w: shirt id must be at least 1", ErrSequence)
	}
	if side != SideFront && side != SideBack {
		return Transition{}, fmt.Errorf("%w: unknown side %d", ErrSequence, int(side))
	}
	if m.HeatingEnabled() {
		return Transition{}, fmt.Errorf("%w: shirt %d %s in %s", ErrCycleActive, m.cycle.ShirtID, m.cycle.Side, m.cycle.Status)
	}

	m.cycle = &PressingCycle{
		ShirtID:        shirtID,
		Side:           side,
		Stage1Duration: stage1,
		Stage2Duration: stage2,
		StartTime:      now,
		StageStart:     now,
		Status:         StatusStage1,
	}
	return Transition{From: StatusIdle, To: StatusStage1, Cycle: *m.cycle}, nil
}

// Tick advances the cycle by at most one stage. It reports whether a
// transition fired.
func (m *Machine) Tick(now time.Time) (Transition, bool) {
	if m.cycle == nil {
		return Transition{}, false
	}

	c := m.cycle
	switch c.Status {
	case StatusStage1:
		if now.Sub(c.StartTime) < seconds(c.Stage1Duration) {
			return Transition{}, false
		}
		// Stage 2 is timed from this instant, not from StartTime.
		c.StageStart = now
		return m.move(StatusStage2), true
	case StatusStage2:
		if now.Sub(c.StageStart) < seconds(c.Stage2Duration) {
			return Transition{}, false
		}
		c.EndTime = now
		return m.move(StatusComplete), true
	default:
		return Transition{}, false
	}
}

// Abort ends an active cycle immediately with reason, bypassing stage timing.
// It reports false when there is nothing to abort.
func (m *Machine) Abort(reason string, now time.Time) (Transition, bool) {
	if !m.HeatingEnabled() {
		return Transition{}, false
	}
	if reason == "" {
		reason = "aborted"
	}
	if now.Before(m.cycle.StageStart) {
		now = m.cycle.StageStart
	}
	m.cycle.EndTime = now
	m.cycle.AbortReason = reason
	return m.move(StatusAborted), true
}

// Remaining returns the time left in the current stage at now.
func (m *Machine) Remaining(now time.Time) time.Duration {
	if !m.HeatingEnabled() {
		return 0
	}
	d := seconds(m.cycle.Stage1Duration)
	if m.cycle.Status == StatusStage2 {
		d = seconds(m.cycle.Stage2Duration)
	}
	left := d - now.Sub(m.cycle.StageStart)
	if left < 0 {
		return 0
	}
	return left
}

// Restore replaces the current cycle with a recovered one.
func (m *Machine) Restore(c PressingCycle) error {
	if err := ValidatePressingCycle(c); err != nil {
		return err
	}
	if c.Status == StatusIdle {
		m.cycle = nil
		return nil
	}
	m.cycle = &c
	return nil
}

// Clear drops the current cycle.
func (m *Machine) Clear() {
	m.cycle = nil
}

func (m *Machine) move(to Status) Transition {
	from := m.cycle.Status
	m.cycle.Status = to
	return Transition{From: from, To: to, Cycle: *m.cycle}
}

func seconds(s uint16) time.Duration {
	return time.Duration(s) * time.Second
}
