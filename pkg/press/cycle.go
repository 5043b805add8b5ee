package press

import (
	"fmt"
	"time"
)

// Side is the shirt side a cycle presses.
type Side int

const (
	SideFront Side = iota
	SideBack
)

func (s Side) String() string {
	switch s {
	case SideFront:
		return "front"
	case SideBack:
		return "back"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	if s != SideFront && s != SideBack {
		return nil, fmt.Errorf("invalid side %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "front":
		*s = SideFront
	case "back":
		*s = SideBack
	default:
		return fmt.Errorf("invalid side %q", text)
	}
	return nil
}

// Status is the stage a pressing cycle is in.
type Status int

const (
	StatusIdle Status = iota
	StatusStage1
	StatusStage2
	StatusComplete
	// StatusAborted is terminal like StatusComplete but the cycle never
	// counts towards the print run.
	StatusAborted
)

var statusNames = map[Status]string{
	StatusIdle:     "idle",
	StatusStage1:   "stage1",
	StatusStage2:   "stage2",
	StatusComplete: "complete",
	StatusAborted:  "aborted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether the cycle is pressing (STAGE1 or STAGE2).
func (s Status) Active() bool {
	return s == StatusStage1 || s == StatusStage2
}

// Terminal reports whether the cycle has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusAborted
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid status %q", text)
}

// PressingCycle is one press operation on one side of one shirt.
type PressingCycle struct {
	ShirtID        uint16    `yaml:"shirt_id" json:"shirt_id"`
	Side           Side      `yaml:"side" json:"side"`
	Stage1Duration uint16    `yaml:"stage1_duration" json:"stage1_duration"` // Seconds
	Stage2Duration uint16    `yaml:"stage2_duration" json:"stage2_duration"` // Seconds
	StartTime      time.Time `yaml:"start_time" json:"start_time"`           // Entry into STAGE1
	StageStart     time.Time `yaml:"stage_start" json:"stage_start"`         // Entry into the current stage
	EndTime        time.Time `yaml:"end_time,omitempty" json:"end_time,omitempty"`
	Status         Status    `yaml:"status" json:"status"`
	AbortReason    string    `yaml:"abort_reason,omitempty" json:"abort_reason,omitempty"`
}

// WallTime returns the whole seconds between entry into STAGE1 and the end
// of the cycle. It is zero for cycles that have not ended. A cycle resumed
// after a power loss keeps its original StartTime, so the outage is part of
// its wall time and of the run's TimeElapsed.
func (c PressingCycle) WallTime() uint32 {
	if !c.Status.Terminal() || c.EndTime.Before(c.StartTime) {
		return 0
	}
	return uint32(c.EndTime.Sub(c.StartTime).Round(time.Second) / time.Second)
}

// ValidatePressingCycle checks the invariants of a pressing cycle. The
// returned error wraps ErrInvalidCycle.
func ValidatePressingCycle(c PressingCycle) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidCycle, fmt.Sprintf(format, args...))
	}

	if c.ShirtID == 0 {
		return fail("shirt id must be at least 1")
	}
	if c.Side != SideFront && c.Side != SideBack {
		return fail("unknown side %d", int(c.Side))
	}
	if c.Stage1Duration == 0 || c.Stage2Duration == 0 {
		return fail("stage durations must be positive (got %d, %d)", c.Stage1Duration, c.Stage2Duration)
	}
	if _, ok := statusNames[c.Status]; !ok {
		return fail("unknown status %d", int(c.Status))
	}

	if c.Status == StatusIdle {
		if !c.StartTime.IsZero() || !c.StageStart.IsZero() || !c.EndTime.IsZero() {
			return fail("idle cycle carries timestamps")
		}
		return nil
	}

	if c.StartTime.IsZero() || c.StageStart.IsZero() {
		return fail("%s cycle without start time", c.Status)
	}
	if c.StageStart.Before(c.StartTime) {
		return fail("stage start %v precedes cycle start %v", c.StageStart, c.StartTime)
	}
	if c.Status == StatusStage1 && !c.StageStart.Equal(c.StartTime) {
		return fail("stage1 must start with the cycle")
	}
	if c.Status.Terminal() {
		if c.EndTime.IsZero() || c.EndTime.Before(c.StageStart) {
			return fail("%s cycle with invalid end time", c.Status)
		}
	} else if !c.EndTime.IsZero() {
		return fail("%s cycle carries an end time", c.Status)
	}
	if (c.Status == StatusAborted) != (c.AbortReason != "") {
		return fail("abort reason must be set exactly for aborted cycles")
	}
	return nil
}
