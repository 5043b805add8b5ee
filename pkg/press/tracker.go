package press

import "fmt"

// Tracker folds completed cycles into a print run. It is the only mutator of
// the run it holds.
type Tracker struct {
	run PrintRun
}

// NewTracker returns a tracker for run. The run must be valid.
func NewTracker(run PrintRun) (*Tracker, error) {
	if err := ValidatePrintRun(run); err != nil {
		return nil, err
	}
	return &Tracker{run: run}, nil
}

// Run returns a copy of the tracked run.
func (t *Tracker) Run() PrintRun {
	return t.run
}

// IsRunComplete reports whether every shirt has been pressed.
func (t *Tracker) IsRunComplete() bool {
	return t.run.Complete()
}

// NextCycle returns the shirt and side the next cycle should press. It
// reports false when the run is complete.
func (t *Tracker) NextCycle() (uint16, Side, bool) {
	if t.run.Complete() {
		return 0, SideFront, false
	}
	if t.run.FrontDone {
		return t.run.Progress, SideBack, true
	}
	return t.run.Progress, SideFront, true
}

// Advance records one completed cycle. Out of order completions fail with
// ErrSequence and leave the run untouched.
func (t *Tracker) Advance(c PressingCycle) error {
	if c.Status != StatusComplete {
		return fmt.Errorf("%w: cycle for shirt %d is %s, not complete", ErrSequence, c.ShirtID, c.Status)
	}
	if t.run.Complete() {
		return fmt.Errorf("%w: run %d already has %d/%d shirts", ErrSequence, t.run.ID, t.run.ShirtsCompleted, t.run.NumShirts)
	}

	next := t.run
	switch next.Type {
	case RunSingleSided:
		next.ShirtsCompleted++
	case RunDoubleSided:
		if c.ShirtID != next.Progress {
			return fmt.Errorf("%w: %s of shirt %d completed while shirt %d is in process",
				ErrSequence, c.Side, c.ShirtID, next.Progress)
		}
		switch {
		case c.Side == SideFront && next.FrontDone:
			return fmt.Errorf("%w: front of shirt %d completed twice", ErrSequence, c.ShirtID)
		case c.Side == SideBack && !next.FrontDone:
			return fmt.Errorf("%w: back of shirt %d completed before its front", ErrSequence, c.ShirtID)
		case c.Side == SideFront:
			next.FrontDone = true
		default:
			next.FrontDone = false
			next.ShirtsCompleted++
		}
	default:
		return fmt.Errorf("%w: unknown run type %d", ErrInvalidRun, int(next.Type))
	}

	next.Progress = expectedProgress(next.ShirtsCompleted, next.NumShirts)
	next.TimeElapsed += c.WallTime()
	next.AvgTimePerShirt = averageTime(next.TimeElapsed, next.ShirtsCompleted)
	t.run = next
	return nil
}
