package scheduler

import (
	"strconv"
	"sync/atomic"
	"time"
)

// TaskStatus is the lifecycle state of a [Task].
type TaskStatus int

const (
	// TaskPending tasks are queued, and will run on a future flush.
	TaskPending TaskStatus = iota
	// TaskRunning tasks are executing, or waiting on an asynchronous result.
	TaskRunning
	// TaskCompleted tasks have finished, successfully or otherwise.
	TaskCompleted
	// TaskCanceled tasks were canceled. Persistent tasks always end up
	// canceled, never completed.
	TaskCanceled
)

func (x TaskStatus) String() string {
	switch x {
	case TaskPending:
		return `pending`
	case TaskRunning:
		return `running`
	case TaskCompleted:
		return `completed`
	case TaskCanceled:
		return `canceled`
	default:
		return `TaskStatus(` + strconv.Itoa(int(x)) + `)`
	}
}

// AsyncMode controls whether a task's result is treated as asynchronous.
type AsyncMode int

const (
	// AsyncAuto treats a task as asynchronous if its callback returns a
	// [Thenable] value.
	AsyncAuto AsyncMode = iota
	// AsyncAlways treats every result as asynchronous. Non-thenable values
	// behave like an already fulfilled thenable.
	AsyncAlways
	// AsyncNever treats every result as synchronous, including thenables,
	// which become the task's value.
	AsyncNever
)

func (x AsyncMode) valid() bool {
	return x >= AsyncAuto && x <= AsyncNever
}

type (
	// TaskFunc is the callback for a [Task]. It receives the time elapsed
	// since the task was created (or re-armed, if persistent).
	//
	// Returning a [Thenable] value marks the run as asynchronous, see
	// [AsyncMode].
	TaskFunc func(elapsed time.Duration) (any, error)

	// QueueTaskOptions models optional configuration, for
	// [TaskQueue.QueueTask]. The zero value is the default.
	QueueTaskOptions struct {
		// Delay before the task becomes due. Negative values are treated as
		// zero.
		Delay time.Duration
		// Async controls the detection of asynchronous results.
		Async AsyncMode
		// Preempt places the task ahead of all pending work. Must not be
		// combined with Delay or Persistent.
		Preempt bool
		// Persistent re-arms the task after every successful run, until
		// canceled.
		Persistent bool
		// Reusable returns the task to the queue's pool once it completes.
		Reusable bool
	}

	// Task is a unit of work queued on a [TaskQueue]. Instances are created
	// by [TaskQueue.QueueTask].
	Task struct {
		createdTime time.Time
		queueTime   time.Time
		value       any
		err         error
		callback    TaskFunc
		prev        *Task
		next        *Task
		result      *Promise
		resolve     ResolveFunc
		reject      RejectFunc
		queue       atomic.Pointer[TaskQueue]
		id          uint64
		delay       time.Duration
		status      TaskStatus
		priority    Priority
		async       AsyncMode
		preempt     bool
		persistent  bool
		reusable    bool
	}
)

var taskIDs atomic.Uint64

func newTask(q *TaskQueue, now time.Time, callback TaskFunc, opts *QueueTaskOptions) *Task {
	t := &Task{id: taskIDs.Add(1)}
	t.queue.Store(q)
	t.reuse(q.priority, now, callback, opts)
	return t
}

// lock locks and returns the queue that currently owns the task, which may
// change concurrently, see [TaskQueue.Take].
func (t *Task) lock() *TaskQueue {
	for {
		q := t.queue.Load()
		q.mu.Lock()
		if t.queue.Load() == q {
			return q
		}
		q.mu.Unlock()
	}
}

// ID returns the task's identifier, which is unique and monotonically
// increasing, except that reused tasks retain their identifier.
func (t *Task) ID() uint64 { return t.id }

// Priority returns the priority of the owning queue.
func (t *Task) Priority() Priority {
	q := t.lock()
	defer q.mu.Unlock()
	return t.priority
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	q := t.lock()
	defer q.mu.Unlock()
	return t.status
}

// Preempt reports whether the task was queued ahead of pending work.
func (t *Task) Preempt() bool {
	q := t.lock()
	defer q.mu.Unlock()
	return t.preempt
}

// Persistent reports whether the task will be re-armed after its current or
// next run. Canceling a running persistent task clears this flag.
func (t *Task) Persistent() bool {
	q := t.lock()
	defer q.mu.Unlock()
	return t.persistent
}

// Reusable reports whether the task returns to its queue's pool once done.
func (t *Task) Reusable() bool {
	q := t.lock()
	defer q.mu.Unlock()
	return t.reusable
}

// Delay returns the configured delay, applied again on every re-arm.
func (t *Task) Delay() time.Duration {
	q := t.lock()
	defer q.mu.Unlock()
	return t.delay
}

// CreatedTime returns the time the task was created, or last re-armed.
func (t *Task) CreatedTime() time.Time {
	q := t.lock()
	defer q.mu.Unlock()
	return t.createdTime
}

// QueueTime returns the time the task becomes due.
func (t *Task) QueueTime() time.Time {
	q := t.lock()
	defer q.mu.Unlock()
	return t.queueTime
}

// Result returns a promise for the outcome of the task's next run.
//
// While the task is running, ErrAwaitFromWithin is returned, as the
// requested promise could never be consumed by the task itself. Once the
// task has settled, an already settled promise is returned: completed tasks
// yield their final value or error, and canceled tasks reject with
// [*TaskAbortError], unless they failed.
//
// Requesting a result also marks the task's errors as handled.
func (t *Task) Result() (*Promise, error) {
	q := t.lock()
	defer q.mu.Unlock()
	if t.result != nil {
		return t.result, nil
	}
	switch t.status {
	case TaskPending:
		t.result, t.resolve, t.reject = NewPromise()
		return t.result, nil
	case TaskRunning:
		return nil, ErrAwaitFromWithin
	case TaskCompleted:
		if t.err != nil {
			return Rejected(t.err), nil
		}
		return Resolved(t.value), nil
	default:
		if t.err != nil {
			return Rejected(t.err), nil
		}
		return Rejected(t.abortError()), nil
	}
}

// Cancel cancels a pending task, removing it from its queue, and rejecting
// its result with [*TaskAbortError]. Canceling a running persistent task
// prevents it from being re-armed. Reports whether anything was canceled.
func (t *Task) Cancel() bool {
	q := t.lock()
	switch {
	case t.status == TaskPending:
		now := q.s.clock.Now()
		if err := q.removeLocked(t, now); err != nil {
			q.mu.Unlock()
			q.s.logger.Err().
				Err(err).
				Log(`scheduler: failed to remove canceled task`)
			return false
		}
		var clamp *Task
		if q.isEmptyLocked() {
			clamp = q.idleLocked()
		}
		reject := t.reject
		abort := t.abortError()
		t.status = TaskCanceled
		q.stats.Canceled++
		var event TaskEvent
		if q.s.observing() {
			event = t.eventLocked(TaskEventCanceled, now)
		}
		q.disposeLocked(t)
		if t.reusable {
			q.returnToPoolLocked(t)
		}
		var yield ResolveFunc
		if q.flushing == 0 {
			yield = q.takeYieldLocked()
		}
		q.mu.Unlock()

		if clamp != nil {
			clamp.Cancel()
		}
		if reject != nil {
			reject(abort)
		}
		if yield != nil {
			yield(nil)
		}
		if event.Kind != 0 {
			q.s.observe(event)
		}
		return true

	case t.status == TaskRunning && t.persistent:
		t.persistent = false
		q.mu.Unlock()
		return true

	default:
		q.mu.Unlock()
		return false
	}
}

func (t *Task) String() string {
	q := t.lock()
	defer q.mu.Unlock()
	return `Task(` + strconv.FormatUint(t.id, 10) + `, ` + t.priority.String() + `, ` + t.status.String() + `)`
}

func (t *Task) abortError() *TaskAbortError {
	return &TaskAbortError{TaskID: t.id, Priority: t.priority}
}

// reset re-arms a persistent task, preserving its delay.
func (t *Task) reset(now time.Time) {
	t.createdTime = now
	t.queueTime = now.Add(t.delay)
	t.status = TaskPending
	t.result = nil
	t.resolve = nil
	t.reject = nil
}

// reuse (re)initializes the task's payload, timing, and flags.
func (t *Task) reuse(priority Priority, now time.Time, callback TaskFunc, opts *QueueTaskOptions) {
	t.priority = priority
	t.callback = callback
	t.delay = max(0, opts.Delay)
	t.async = opts.Async
	t.preempt = opts.Preempt
	t.persistent = opts.Persistent
	t.reusable = opts.Reusable
	t.value = nil
	t.err = nil
	t.reset(now)
}

// eventLocked must be called with the owning queue's lock held.
func (t *Task) eventLocked(kind TaskEventKind, now time.Time) TaskEvent {
	return TaskEvent{
		Time:       now,
		Err:        t.err,
		Delay:      t.delay,
		Kind:       kind,
		TaskID:     t.id,
		Priority:   t.priority,
		Status:     t.status,
		Preempt:    t.preempt,
		Persistent: t.persistent,
		Reusable:   t.reusable,
	}
}
