package schedulertest

import (
	"sync"
	"time"
)

// Epoch is the default starting time of a [ManualClock].
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a scheduler.Clock that only advances when told to. It is
// safe for concurrent use.
type ManualClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewManualClock returns a clock reading start, or [Epoch] if start is zero.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

func (x *ManualClock) Now() time.Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.now
}

// Set moves the clock to now, which may be in the past.
func (x *ManualClock) Set(now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.now = now
}

// Advance moves the clock forward by d, returning the new reading.
func (x *ManualClock) Advance(d time.Duration) time.Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.now = x.now.Add(d)
	return x.now
}
