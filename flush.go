package scheduler

import (
	"time"
)

type (
	// FlushRequestor is the host capability used by a [TaskQueue] to ask for
	// its Flush method to be called, at some later point.
	//
	// Request may be called while the queue's internal lock is held, and
	// therefore must never call Flush synchronously. Repeated calls to
	// Request, without an intervening flush, are already suppressed by the
	// queue. Cancel withdraws an outstanding request, and must be a no-op if
	// there is none.
	FlushRequestor interface {
		Request()
		Cancel()
	}

	// DelayedFlushRequestor may optionally be implemented by a
	// [FlushRequestor], to support waking the queue after a delay, when only
	// delayed tasks remain. Requestors that don't implement it will receive
	// a regular Request, and the host will effectively poll.
	//
	// A subsequent Request must supersede an outstanding delayed request.
	DelayedFlushRequestor interface {
		FlushRequestor
		RequestDelayed(delay time.Duration)
	}

	// Flusher is implemented by [TaskQueue].
	Flusher interface {
		Priority() Priority
		Flush() error
	}

	// FlushRequestorFactory builds the [FlushRequestor] for each queue of a
	// [Scheduler].
	FlushRequestorFactory interface {
		NewFlushRequestor(priority Priority, flusher Flusher) FlushRequestor
	}

	// FlushRequestorFactoryFunc implements [FlushRequestorFactory].
	FlushRequestorFactoryFunc func(priority Priority, flusher Flusher) FlushRequestor
)

var (
	// compile time assertions

	_ Flusher = (*TaskQueue)(nil)
)

func (x FlushRequestorFactoryFunc) NewFlushRequestor(priority Priority, flusher Flusher) FlushRequestor {
	return x(priority, flusher)
}
