package schedulertest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-scheduler"
)

// ErrDrainLimit is returned by [Host.Drain] if the queues do not quiesce.
var ErrDrainLimit = errors.New(`schedulertest: drain limit exceeded`)

type (
	// Host implements scheduler.FlushRequestorFactory, recording flush
	// requests, and flushing queues only when explicitly told to. It is safe
	// for concurrent use, though flushes are performed on the calling
	// goroutine.
	Host struct {
		clock  scheduler.Clock
		queues map[scheduler.Priority]*hostQueue
		mu     sync.Mutex
	}

	hostQueue struct {
		due             time.Time
		flusher         scheduler.Flusher
		requests        int
		delayedRequests int
		cancels         int
		requested       bool
		delayed         bool
	}

	requestor struct {
		host     *Host
		priority scheduler.Priority
	}
)

var (
	// compile time assertions

	_ scheduler.FlushRequestorFactory  = (*Host)(nil)
	_ scheduler.DelayedFlushRequestor = (*requestor)(nil)
)

// NewHost returns a host that evaluates delayed requests against clock. A
// nil clock means delayed requests are always considered due.
func NewHost(clock scheduler.Clock) *Host {
	return &Host{
		clock:  clock,
		queues: make(map[scheduler.Priority]*hostQueue),
	}
}

// NewScheduler is a convenience that builds a scheduler, using a new
// [ManualClock] and [Host].
func NewScheduler(opts ...scheduler.Option) (*scheduler.Scheduler, *ManualClock, *Host, error) {
	clock := NewManualClock(time.Time{})
	host := NewHost(clock)
	s, err := scheduler.New(clock, host, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, clock, host, nil
}

func (x *Host) NewFlushRequestor(priority scheduler.Priority, flusher scheduler.Flusher) scheduler.FlushRequestor {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queues[priority] = &hostQueue{flusher: flusher}
	return &requestor{host: x, priority: priority}
}

func (x *requestor) Request() {
	x.host.mu.Lock()
	defer x.host.mu.Unlock()
	q := x.host.queues[x.priority]
	q.requests++
	q.requested = true
	q.delayed = false
}

func (x *requestor) RequestDelayed(delay time.Duration) {
	x.host.mu.Lock()
	defer x.host.mu.Unlock()
	q := x.host.queues[x.priority]
	q.delayedRequests++
	q.requested = true
	q.delayed = true
	if x.host.clock != nil {
		q.due = x.host.clock.Now().Add(delay)
	}
}

func (x *requestor) Cancel() {
	x.host.mu.Lock()
	defer x.host.mu.Unlock()
	q := x.host.queues[x.priority]
	if q.requested {
		q.cancels++
	}
	q.requested = false
	q.delayed = false
}

func (x *Host) queue(priority scheduler.Priority) *hostQueue {
	q, ok := x.queues[priority]
	if !ok {
		panic(fmt.Errorf(`schedulertest: unknown priority: %s`, priority))
	}
	return q
}

// Requested reports whether a flush is outstanding, including delayed
// requests that are not yet due.
func (x *Host) Requested(priority scheduler.Priority) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.queue(priority).requested
}

// Delay returns the remaining delay of an outstanding delayed request.
func (x *Host) Delay(priority scheduler.Priority) (time.Duration, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	q := x.queue(priority)
	if !q.requested || !q.delayed {
		return 0, false
	}
	if x.clock == nil {
		return 0, true
	}
	return max(0, q.due.Sub(x.clock.Now())), true
}

// Requests returns the number of immediate requests received.
func (x *Host) Requests(priority scheduler.Priority) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.queue(priority).requests
}

// DelayedRequests returns the number of delayed requests received.
func (x *Host) DelayedRequests(priority scheduler.Priority) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.queue(priority).delayedRequests
}

// Cancels returns the number of outstanding requests that were canceled.
func (x *Host) Cancels(priority scheduler.Priority) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.queue(priority).cancels
}

// Flush flushes the given queue, regardless of whether it was requested.
func (x *Host) Flush(priority scheduler.Priority) error {
	x.mu.Lock()
	q := x.queue(priority)
	q.requested = false
	q.delayed = false
	flusher := q.flusher
	x.mu.Unlock()
	return flusher.Flush()
}

// FlushRequested flushes the given queue only if it has an outstanding
// request that is due, reporting whether it did.
func (x *Host) FlushRequested(priority scheduler.Priority) (bool, error) {
	x.mu.Lock()
	if !x.dueLocked(x.queue(priority)) {
		x.mu.Unlock()
		return false, nil
	}
	x.mu.Unlock()
	return true, x.Flush(priority)
}

func (x *Host) dueLocked(q *hostQueue) bool {
	return q.requested && (!q.delayed || x.clock == nil || !x.clock.Now().Before(q.due))
}

// Drain repeatedly flushes the highest priority queue with a due request,
// until none remain, or limit flushes have been performed, in which case
// ErrDrainLimit is returned. The first flush error is returned immediately.
func (x *Host) Drain(limit int) (int, error) {
	var flushes int
	for {
		priority, ok := x.next()
		if !ok {
			return flushes, nil
		}
		if flushes >= limit {
			return flushes, ErrDrainLimit
		}
		flushes++
		if err := x.Flush(priority); err != nil {
			return flushes, err
		}
	}
}

func (x *Host) next() (scheduler.Priority, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, priority := range scheduler.Priorities() {
		if q, ok := x.queues[priority]; ok && x.dueLocked(q) {
			return priority, true
		}
	}
	return 0, false
}
