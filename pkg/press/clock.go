package press

import "time"

// Clock supplies timestamps to the control loops. Implementations must be
// monotonic within a process; time.Now carries a monotonic reading.
type Clock interface {
	Now() time.Time
}

// SystemClock is the process clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }
