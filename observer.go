package scheduler

import (
	"strconv"
	"time"
)

// TaskEventKind identifies a task lifecycle transition.
type TaskEventKind int

const (
	// TaskEventQueued is emitted once a task has been inserted into a queue.
	TaskEventQueued TaskEventKind = iota + 1
	// TaskEventStarted is emitted immediately before the callback is invoked.
	TaskEventStarted
	// TaskEventCompleted is emitted when a non-persistent task settles
	// successfully.
	TaskEventCompleted
	// TaskEventRearmed is emitted when a persistent task is re-queued.
	TaskEventRearmed
	// TaskEventCanceled is emitted when a pending task is canceled, or when a
	// deactivated persistent task finishes its final run.
	TaskEventCanceled
	// TaskEventFailed is emitted when a task callback returns an error,
	// panics, or its thenable rejects.
	TaskEventFailed
)

func (x TaskEventKind) String() string {
	switch x {
	case TaskEventQueued:
		return `queued`
	case TaskEventStarted:
		return `started`
	case TaskEventCompleted:
		return `completed`
	case TaskEventRearmed:
		return `rearmed`
	case TaskEventCanceled:
		return `canceled`
	case TaskEventFailed:
		return `failed`
	default:
		return `TaskEventKind(` + strconv.Itoa(int(x)) + `)`
	}
}

type (
	// TaskEvent describes a task lifecycle transition. It is a snapshot, and
	// carries no reference to the task, which may already have been reused.
	TaskEvent struct {
		// Time is the scheduler clock reading at the time of the event.
		Time time.Time
		// Err is set for TaskEventFailed.
		Err error
		// Delay is the task's configured delay.
		Delay time.Duration
		// Elapsed is the time between the task's creation (or re-arming),
		// and the start of the run, set for all events after
		// TaskEventStarted.
		Elapsed time.Duration
		// RunDuration is the wall time spent in the callback, for
		// synchronous tasks, or until settlement, for asynchronous ones.
		RunDuration time.Duration
		Kind        TaskEventKind
		TaskID      uint64
		Priority    Priority
		Status      TaskStatus
		Preempt     bool
		Persistent  bool
		Reusable    bool
		Async       bool
	}

	// Observer receives [TaskEvent] notifications, from any goroutine,
	// without any scheduler lock held. Implementations must be safe for
	// concurrent use, and should not block.
	Observer interface {
		ObserveTask(event TaskEvent)
	}

	// ObserverFunc implements [Observer].
	ObserverFunc func(event TaskEvent)
)

func (x ObserverFunc) ObserveTask(event TaskEvent) { x(event) }

func (s *Scheduler) observe(event TaskEvent) {
	for _, o := range s.observers {
		o.ObserveTask(event)
	}
}

// observing reports whether events need to be built at all.
func (s *Scheduler) observing() bool {
	return len(s.observers) != 0
}
