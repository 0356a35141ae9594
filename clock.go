package scheduler

import (
	"time"
)

type (
	// Clock provides the monotonic time source shared by every queue of a
	// [Scheduler]. Implementations must be safe for concurrent use.
	Clock interface {
		Now() time.Time
	}

	// ClockFunc implements [Clock].
	ClockFunc func() time.Time
)

// SystemClock is the wall clock, backed by [time.Now], which carries a
// monotonic reading.
var SystemClock Clock = ClockFunc(time.Now)

func (x ClockFunc) Now() time.Time { return x() }
