package press

import (
	"fmt"
	"time"
)

// RunType tells how many sides are pressed per shirt.
type RunType int

const (
	RunSingleSided RunType = iota
	RunDoubleSided
)

func (t RunType) String() string {
	switch t {
	case RunSingleSided:
		return "single"
	case RunDoubleSided:
		return "double"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t RunType) MarshalText() ([]byte, error) {
	if t != RunSingleSided && t != RunDoubleSided {
		return nil, fmt.Errorf("invalid run type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RunType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "single":
		*t = RunSingleSided
	case "double":
		*t = RunDoubleSided
	default:
		return fmt.Errorf("invalid run type %q", text)
	}
	return nil
}

// PrintRun is a batch of shirts pressed one after another.
type PrintRun struct {
	ID              uint32  `yaml:"id" json:"id"`
	NumShirts       uint16  `yaml:"num_shirts" json:"num_shirts"`
	Type            RunType `yaml:"type" json:"type"`
	Progress        uint16  `yaml:"progress" json:"progress"`                     // 1-based shirt in process
	TimeElapsed     uint32  `yaml:"time_elapsed" json:"time_elapsed"`             // Seconds
	ShirtsCompleted uint16  `yaml:"shirts_completed" json:"shirts_completed"`     //
	AvgTimePerShirt uint32  `yaml:"avg_time_per_shirt" json:"avg_time_per_shirt"` // Seconds
	// FrontDone is set on double-sided runs once the front of shirt Progress
	// is pressed and its back is pending.
	FrontDone bool `yaml:"front_done" json:"front_done"`
}

// NewPrintRun returns a validated run positioned at its first shirt.
func NewPrintRun(id uint32, numShirts uint16, runType RunType) (PrintRun, error) {
	run := PrintRun{
		ID:        id,
		NumShirts: numShirts,
		Type:      runType,
		Progress:  1,
	}
	if err := ValidatePrintRun(run); err != nil {
		return PrintRun{}, err
	}
	return run, nil
}

// Complete reports whether every shirt of the run has been pressed.
func (r PrintRun) Complete() bool {
	return r.NumShirts > 0 && r.ShirtsCompleted >= r.NumShirts
}

// ValidatePrintRun checks the invariants of a print run. The returned error
// wraps ErrInvalidRun.
func ValidatePrintRun(r PrintRun) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRun, fmt.Sprintf(format, args...))
	}

	if r.NumShirts == 0 {
		return fail("run %d has no shirts", r.ID)
	}
	if r.Type != RunSingleSided && r.Type != RunDoubleSided {
		return fail("unknown run type %d", int(r.Type))
	}
	if r.Progress == 0 || r.Progress > r.NumShirts {
		return fail("progress %d outside 1..%d", r.Progress, r.NumShirts)
	}
	if r.ShirtsCompleted > r.NumShirts || r.ShirtsCompleted > r.Progress {
		return fail("%d shirts completed with progress %d of %d", r.ShirtsCompleted, r.Progress, r.NumShirts)
	}
	if want := expectedProgress(r.ShirtsCompleted, r.NumShirts); r.Progress != want {
		return fail("progress %d does not follow %d completed shirts", r.Progress, r.ShirtsCompleted)
	}
	if r.FrontDone && (r.Type != RunDoubleSided || r.Complete()) {
		return fail("pending back side on a %s run with %d/%d shirts", r.Type, r.ShirtsCompleted, r.NumShirts)
	}
	if r.AvgTimePerShirt != averageTime(r.TimeElapsed, r.ShirtsCompleted) {
		return fail("average %d does not match %ds over %d shirts", r.AvgTimePerShirt, r.TimeElapsed, r.ShirtsCompleted)
	}
	return nil
}

// Checkpoint is the durable snapshot of a run and its current cycle.
type Checkpoint struct {
	Run     PrintRun       `yaml:"run" json:"run"`
	Cycle   *PressingCycle `yaml:"cycle,omitempty" json:"cycle,omitempty"`
	SavedAt time.Time      `yaml:"saved_at" json:"saved_at"`
}

// Validate checks both records of the checkpoint and that the cycle belongs
// to the run. Cross-record mismatches wrap ErrSequence.
func (c Checkpoint) Validate() error {
	if err := ValidatePrintRun(c.Run); err != nil {
		return err
	}
	if c.Cycle == nil {
		return nil
	}
	if err := ValidatePressingCycle(*c.Cycle); err != nil {
		return err
	}
	return cycleMatchesRun(*c.Cycle, c.Run)
}

// cycleMatchesRun checks a cycle against the run it was snapshotted with.
// Completed cycles are already folded into the run; active and aborted ones
// are not.
func cycleMatchesRun(c PressingCycle, r PrintRun) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s of shirt %d (%s) %s", ErrSequence, c.Side, c.ShirtID, c.Status, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Status == StatusIdle:
		return nil
	case c.Status == StatusComplete:
		if r.ShirtsCompleted == 0 && !r.FrontDone {
			return fail("with nothing completed in run %d", r.ID)
		}
		if r.Type != RunDoubleSided {
			return nil
		}
		if c.Side == SideFront && (!r.FrontDone || c.ShirtID != r.Progress) {
			return fail("but run %d has no front pending on shirt %d", r.ID, r.Progress)
		}
		if c.Side == SideBack && (r.FrontDone || c.ShirtID != r.ShirtsCompleted) {
			return fail("but run %d last completed shirt %d", r.ID, r.ShirtsCompleted)
		}
		return nil
	}

	// Active or aborted: the cycle is the one the run is waiting for.
	if r.Complete() {
		return fail("on completed run %d", r.ID)
	}
	if r.Type != RunDoubleSided {
		return nil
	}
	want := SideFront
	if r.FrontDone {
		want = SideBack
	}
	if c.ShirtID != r.Progress || c.Side != want {
		return fail("while run %d expects %s of shirt %d", r.ID, want, r.Progress)
	}
	return nil
}

func expectedProgress(completed, total uint16) uint16 {
	if completed >= total {
		return total
	}
	return completed + 1
}

func averageTime(elapsed uint32, completed uint16) uint32 {
	return elapsed / uint32(max(completed, 1))
}
