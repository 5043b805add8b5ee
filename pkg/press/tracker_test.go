package press

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(shirt uint16, side Side, wall int) PressingCycle {
	return PressingCycle{
		ShirtID:        shirt,
		Side:           side,
		Stage1Duration: 10,
		Stage2Duration: 5,
		StartTime:      at(0),
		StageStart:     at(wall / 2),
		EndTime:        at(wall),
		Status:         StatusComplete,
	}
}

func newTracker(t *testing.T, shirts uint16, runType RunType) *Tracker {
	t.Helper()
	run, err := NewPrintRun(7, shirts, runType)
	require.NoError(t, err)
	tr, err := NewTracker(run)
	require.NoError(t, err)
	return tr
}

func TestNewPrintRun(t *testing.T) {
	run, err := NewPrintRun(1, 3, RunDoubleSided)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), run.Progress)
	assert.Zero(t, run.ShirtsCompleted)

	_, err = NewPrintRun(1, 0, RunSingleSided)
	assert.ErrorIs(t, err, ErrInvalidRun)
}

func TestTracker_SingleSided(t *testing.T) {
	tr := newTracker(t, 3, RunSingleSided)

	require.NoError(t, tr.Advance(completed(1, SideFront, 20)))
	run := tr.Run()
	assert.Equal(t, uint16(1), run.ShirtsCompleted)
	assert.Equal(t, uint16(2), run.Progress)

	// Side is ignored on single-sided runs.
	require.NoError(t, tr.Advance(completed(2, SideBack, 30)))
	run = tr.Run()
	assert.Equal(t, uint16(2), run.ShirtsCompleted)
	assert.Equal(t, uint16(3), run.Progress)
	assert.Equal(t, uint32(50), run.TimeElapsed)
	assert.Equal(t, uint32(25), run.AvgTimePerShirt)
	assert.False(t, tr.IsRunComplete())

	require.NoError(t, tr.Advance(completed(3, SideFront, 10)))
	assert.True(t, tr.IsRunComplete())
	run = tr.Run()
	assert.Equal(t, uint16(3), run.Progress, "progress saturates at the last shirt")
	assert.Equal(t, uint32(20), run.AvgTimePerShirt)
	assert.NoError(t, ValidatePrintRun(run))

	err := tr.Advance(completed(3, SideFront, 10))
	assert.ErrorIs(t, err, ErrSequence)
	assert.Equal(t, run, tr.Run())
}

func TestTracker_DoubleSided(t *testing.T) {
	tr := newTracker(t, 2, RunDoubleSided)

	shirt, side, ok := tr.NextCycle()
	require.True(t, ok)
	assert.Equal(t, uint16(1), shirt)
	assert.Equal(t, SideFront, side)

	require.NoError(t, tr.Advance(completed(1, SideFront, 12)))
	run := tr.Run()
	assert.Zero(t, run.ShirtsCompleted, "front alone does not complete a shirt")
	assert.Equal(t, uint16(1), run.Progress)
	assert.True(t, run.FrontDone)

	shirt, side, ok = tr.NextCycle()
	require.True(t, ok)
	assert.Equal(t, uint16(1), shirt)
	assert.Equal(t, SideBack, side)

	// Second front for the same shirt is rejected without side effects.
	err := tr.Advance(completed(1, SideFront, 12))
	assert.ErrorIs(t, err, ErrSequence)
	assert.Equal(t, run, tr.Run())

	require.NoError(t, tr.Advance(completed(1, SideBack, 13)))
	run = tr.Run()
	assert.Equal(t, uint16(1), run.ShirtsCompleted)
	assert.Equal(t, uint16(2), run.Progress)
	assert.False(t, run.FrontDone)
	assert.Equal(t, uint32(25), run.TimeElapsed)
	assert.Equal(t, uint32(25), run.AvgTimePerShirt)
}

func TestTracker_DoubleSidedSequenceErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup []PressingCycle
		cycle PressingCycle
	}{
		{"back before front", nil, completed(1, SideBack, 10)},
		{"front of another shirt", nil, completed(2, SideFront, 10)},
		{"back of another shirt", []PressingCycle{completed(1, SideFront, 10)}, completed(2, SideBack, 10)},
		{"two fronts", []PressingCycle{completed(1, SideFront, 10)}, completed(1, SideFront, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(t, 3, RunDoubleSided)
			for _, c := range tt.setup {
				require.NoError(t, tr.Advance(c))
			}
			before := tr.Run()

			err := tr.Advance(tt.cycle)
			assert.ErrorIs(t, err, ErrSequence)
			assert.Equal(t, before, tr.Run())
		})
	}
}

func TestTracker_RejectsUnfinishedCycles(t *testing.T) {
	tr := newTracker(t, 1, RunSingleSided)

	aborted := completed(1, SideFront, 10)
	aborted.Status = StatusAborted
	aborted.AbortReason = "estop"
	assert.ErrorIs(t, tr.Advance(aborted), ErrSequence)

	active := completed(1, SideFront, 10)
	active.Status = StatusStage2
	assert.ErrorIs(t, tr.Advance(active), ErrSequence)

	assert.Zero(t, tr.Run().ShirtsCompleted)
}

func TestValidatePrintRun(t *testing.T) {
	valid := PrintRun{ID: 1, NumShirts: 4, Type: RunDoubleSided, Progress: 3, ShirtsCompleted: 2,
		TimeElapsed: 60, AvgTimePerShirt: 30, FrontDone: true}
	require.NoError(t, ValidatePrintRun(valid))

	tests := []struct {
		name   string
		modify func(*PrintRun)
	}{
		{"no shirts", func(r *PrintRun) { r.NumShirts = 0 }},
		{"zero progress", func(r *PrintRun) { r.Progress = 0 }},
		{"progress past end", func(r *PrintRun) { r.Progress = 5 }},
		{"completed ahead of progress", func(r *PrintRun) { r.ShirtsCompleted = 4 }},
		{"progress lags completions", func(r *PrintRun) { r.Progress = 2 }},
		{"unknown type", func(r *PrintRun) { r.Type = RunType(9) }},
		{"front pending on single", func(r *PrintRun) { r.Type = RunSingleSided }},
		{"stale average", func(r *PrintRun) { r.AvgTimePerShirt = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.modify(&r)
			assert.ErrorIs(t, ValidatePrintRun(r), ErrInvalidRun)
		})
	}
}

func TestValidatePressingCycle(t *testing.T) {
	valid := PressingCycle{ShirtID: 1, Side: SideFront, Stage1Duration: 10, Stage2Duration: 5,
		StartTime: at(0), StageStart: at(10), Status: StatusStage2}
	require.NoError(t, ValidatePressingCycle(valid))
	require.NoError(t, ValidatePressingCycle(PressingCycle{ShirtID: 1, Stage1Duration: 1, Stage2Duration: 1}))

	tests := []struct {
		name   string
		modify func(*PressingCycle)
	}{
		{"zero shirt", func(c *PressingCycle) { c.ShirtID = 0 }},
		{"zero duration", func(c *PressingCycle) { c.Stage2Duration = 0 }},
		{"unknown side", func(c *PressingCycle) { c.Side = Side(4) }},
		{"unknown status", func(c *PressingCycle) { c.Status = Status(42) }},
		{"no start time", func(c *PressingCycle) { c.StartTime = time.Time{} }},
		{"stage before start", func(c *PressingCycle) { c.StageStart = at(-1) }},
		{"end time while active", func(c *PressingCycle) { c.EndTime = at(20) }},
		{"complete without end", func(c *PressingCycle) { c.Status = StatusComplete }},
		{"abort without reason", func(c *PressingCycle) { c.Status = StatusAborted; c.EndTime = at(12) }},
		{"reason without abort", func(c *PressingCycle) { c.AbortReason = "estop" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			assert.ErrorIs(t, ValidatePressingCycle(c), ErrInvalidCycle)
		})
	}
}

func TestCheckpointValidate_CycleMatchesRun(t *testing.T) {
	pressing := func(shirt uint16, side Side) *PressingCycle {
		return &PressingCycle{ShirtID: shirt, Side: side, Stage1Duration: 10, Stage2Duration: 5,
			StartTime: at(0), StageStart: at(10), Status: StatusStage2}
	}
	aborted := func(shirt uint16, side Side) *PressingCycle {
		c := pressing(shirt, side)
		c.Status, c.EndTime, c.AbortReason = StatusAborted, at(12), "operator"
		return c
	}
	done := func(shirt uint16, side Side) *PressingCycle {
		c := completed(shirt, side, 16)
		return &c
	}

	fresh, err := NewPrintRun(7, 2, RunDoubleSided)
	require.NoError(t, err)
	frontDone := fresh
	frontDone.FrontDone = true
	firstDone := PrintRun{ID: 7, NumShirts: 2, Type: RunDoubleSided, Progress: 2, ShirtsCompleted: 1,
		TimeElapsed: 32, AvgTimePerShirt: 32}
	allDone := PrintRun{ID: 7, NumShirts: 2, Type: RunDoubleSided, Progress: 2, ShirtsCompleted: 2}
	single, err := NewPrintRun(8, 3, RunSingleSided)
	require.NoError(t, err)
	singleDone := PrintRun{ID: 8, NumShirts: 3, Type: RunSingleSided, Progress: 3, ShirtsCompleted: 3}

	tests := []struct {
		name  string
		run   PrintRun
		cycle *PressingCycle
		valid bool
	}{
		{"no cycle", fresh, nil, true},
		{"front in progress", fresh, pressing(1, SideFront), true},
		{"front folded in", frontDone, done(1, SideFront), true},
		{"back in progress", frontDone, pressing(1, SideBack), true},
		{"back aborted", frontDone, aborted(1, SideBack), true},
		{"back folded in", firstDone, done(1, SideBack), true},
		{"last shirt folded in", allDone, done(2, SideBack), true},
		{"single any side", single, pressing(1, SideBack), true},
		{"single last folded in", singleDone, done(3, SideFront), true},

		{"back of later shirt", fresh, pressing(3, SideBack), false},
		{"front pressed twice", frontDone, pressing(1, SideFront), false},
		{"shirt ahead of progress", fresh, pressing(2, SideFront), false},
		{"aborted front after front done", frontDone, aborted(1, SideFront), false},
		{"pressing on finished run", allDone, pressing(2, SideBack), false},
		{"single pressing on finished run", singleDone, pressing(3, SideFront), false},
		{"front complete but not folded", fresh, done(1, SideFront), false},
		{"back complete but not folded", frontDone, done(1, SideBack), false},
		{"back complete for wrong shirt", firstDone, done(2, SideBack), false},
		{"single complete but not folded", single, done(1, SideFront), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Checkpoint{Run: tt.run, Cycle: tt.cycle, SavedAt: at(20)}.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrSequence)
			}
		})
	}
}

func TestTracker_ResumedCycleCountsOutage(t *testing.T) {
	tr := newTracker(t, 2, RunSingleSided)

	// Stage 2 started at 10s, power was lost until 100s and the cycle
	// finished on the first tick after boot.
	resumed := PressingCycle{ShirtID: 1, Side: SideFront, Stage1Duration: 10, Stage2Duration: 5,
		StartTime: at(0), StageStart: at(10), EndTime: at(100), Status: StatusComplete}
	assert.Equal(t, uint32(100), resumed.WallTime())

	require.NoError(t, tr.Advance(resumed))
	assert.Equal(t, uint32(100), tr.Run().TimeElapsed)
	assert.Equal(t, uint32(100), tr.Run().AvgTimePerShirt)
}
