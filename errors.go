package scheduler

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNilCallback is returned when queueing a task without a callback.
	ErrNilCallback = errors.New(`scheduler: nil callback`)

	// ErrPreemptWithDelay is returned when queueing a preempt task with a
	// positive delay. Preempt tasks always run on the next flush.
	ErrPreemptWithDelay = errors.New(`scheduler: preempt task must not be delayed`)

	// ErrPreemptWithPersistent is returned when queueing a task that is both
	// preempt and persistent.
	ErrPreemptWithPersistent = errors.New(`scheduler: preempt task must not be persistent`)

	// ErrPersistentMicrotask is returned when a persistent task would be
	// placed on the microtask queue, which would starve the host.
	ErrPersistentMicrotask = errors.New(`scheduler: microtask must not be persistent`)

	// ErrInvalidAsyncMode is returned for an out of range [AsyncMode].
	ErrInvalidAsyncMode = errors.New(`scheduler: invalid async mode`)

	// ErrAwaitFromWithin is returned by [Task.Result] while the task is
	// running, since waiting on it from its own callback would never return.
	ErrAwaitFromWithin = errors.New(`scheduler: cannot await a task from within itself`)

	// ErrTaskNotPending is returned when an operation requires a pending
	// task, e.g. [TaskQueue.Take].
	ErrTaskNotPending = errors.New(`scheduler: task is not pending`)

	// ErrNilFlushRequestorFactory is returned by [New].
	ErrNilFlushRequestorFactory = errors.New(`scheduler: nil flush requestor factory`)

	// ErrNilFlushRequestor is returned by [New] when the factory returns nil.
	ErrNilFlushRequestor = errors.New(`scheduler: factory returned nil flush requestor`)
)

type (
	// InvalidPriorityError indicates an unknown [Priority], or an
	// unparseable priority name.
	InvalidPriorityError struct {
		Value any
	}

	// TaskNotFoundError indicates that a task was not present in any list
	// of the queue that claimed to own it.
	TaskNotFoundError struct {
		TaskID   uint64
		Priority Priority
	}

	// TaskAbortError is the rejection reason delivered to result consumers
	// of a canceled task. It matches any other *TaskAbortError, via
	// [errors.Is].
	TaskAbortError struct {
		TaskID   uint64
		Priority Priority
	}

	// PanicError wraps a value recovered from a panicking task callback.
	PanicError struct {
		Value any
		Stack []byte
	}
)

func (e *InvalidPriorityError) Error() string {
	return fmt.Sprintf(`scheduler: invalid priority: %v`, e.Value)
}

func (e *InvalidPriorityError) Is(target error) bool {
	_, ok := target.(*InvalidPriorityError)
	return ok
}

func (e *TaskNotFoundError) Error() string {
	return `scheduler: task ` + strconv.FormatUint(e.TaskID, 10) + ` not found in ` + e.Priority.String() + ` queue`
}

func (e *TaskAbortError) Error() string {
	return `scheduler: task ` + strconv.FormatUint(e.TaskID, 10) + ` (` + e.Priority.String() + `) was canceled`
}

func (e *TaskAbortError) Is(target error) bool {
	_, ok := target.(*TaskAbortError)
	return ok
}

func (e *PanicError) Error() string {
	return fmt.Sprintf(`scheduler: task panicked: %v`, e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
