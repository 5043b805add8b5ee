package press

import "errors"

// Errors returned by the press core. Callers wrap them with context and test
// them with errors.Is.
var (
	ErrConfig          = errors.New("press: invalid settings")
	ErrSequence        = errors.New("press: out of sequence")
	ErrInvalidDuration = errors.New("press: invalid stage duration")
	ErrCycleActive     = errors.New("press: cycle already active")
	ErrNoRun           = errors.New("press: no print run")
	ErrInvalidRun      = errors.New("press: invalid print run")
	ErrInvalidCycle    = errors.New("press: invalid pressing cycle")
)
