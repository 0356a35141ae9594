package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueue holds the tasks of a single [Priority], in three intrusive
// lists: processing (tasks selected for the current or next flush), pending
// (tasks due immediately), and delayed (tasks due in the future, in due-time
// order). Instances are owned by a [Scheduler].
type TaskQueue struct {
	lastRequest  time.Time
	s            *Scheduler
	requestor    FlushRequestor
	yieldWaiter  *Promise
	yieldResolve ResolveFunc
	// clampTask is the macrotask used to wake the microtask queue, when it
	// has only delayed work
	clampTask  *Task
	metrics    *runMetrics
	pool       []*Task
	processing taskList
	pending    taskList
	delayed    taskList
	stats      QueueStats
	seq        uint64
	inflight   int
	flushing   int
	mu         sync.Mutex
	priority   Priority
	// flushRequested guards against redundant requests, and is cleared at
	// the start of each flush
	flushRequested bool
	// delayedRequest indicates the outstanding request was via
	// DelayedFlushRequestor, and may be superseded
	delayedRequest bool
}

// QueueStats is a point in time snapshot of a [TaskQueue].
type QueueStats struct {
	// LastRequest is the clock reading of the last flush request.
	LastRequest time.Time
	// Run is only set if [WithMetrics] is enabled.
	Run        *RunStats
	Processing int
	Pending    int
	Delayed    int
	Pooled     int
	// InFlight is the number of non-persistent asynchronous tasks awaiting
	// settlement.
	InFlight  int
	Queued    uint64
	Completed uint64
	Canceled  uint64
	Failed    uint64
	Rearmed   uint64
	Allocated uint64
	Reused    uint64
	Flushes   uint64
	// Unhandled counts asynchronous errors without a result consumer.
	Unhandled uint64
	// SuppressedLogs counts unhandled errors not logged due to rate limits.
	SuppressedLogs uint64
	Priority       Priority
	FlushRequested bool
}

var queueSeq atomic.Uint64

func newTaskQueue(s *Scheduler, priority Priority, metrics bool) *TaskQueue {
	q := &TaskQueue{
		s:        s,
		priority: priority,
		seq:      queueSeq.Add(1),
	}
	if metrics {
		q.metrics = newRunMetrics()
	}
	return q
}

// Priority returns the queue's priority.
func (q *TaskQueue) Priority() Priority { return q.priority }

// QueueTask queues callback as a new task, or a pooled one, if
// [QueueTaskOptions.Reusable] is set and one is available. A nil opts is
// equivalent to the zero value. Invalid options are rejected before any task
// is created.
func (q *TaskQueue) QueueTask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	var o QueueTaskOptions
	if opts != nil {
		o = *opts
	}
	if err := q.validate(callback, &o); err != nil {
		return nil, err
	}

	now := q.s.clock.Now()

	q.mu.Lock()

	if q.processing.size == 0 {
		q.requestFlushLocked(now)
	}

	var t *Task
	if o.Reusable && len(q.pool) != 0 {
		t = q.pool[len(q.pool)-1]
		q.pool[len(q.pool)-1] = nil
		q.pool = q.pool[:len(q.pool)-1]
		t.reuse(q.priority, now, callback, &o)
		q.stats.Reused++
	} else {
		t = newTask(q, now, callback, &o)
		q.stats.Allocated++
	}

	q.insertLocked(t, now)
	q.stats.Queued++

	var event TaskEvent
	if q.s.observing() {
		event = t.eventLocked(TaskEventQueued, now)
	}

	q.mu.Unlock()

	if event.Kind != 0 {
		q.s.observe(event)
	}

	return t, nil
}

func (q *TaskQueue) validate(callback TaskFunc, o *QueueTaskOptions) error {
	switch {
	case callback == nil:
		return ErrNilCallback
	case o.Preempt && o.Delay > 0:
		return ErrPreemptWithDelay
	case o.Preempt && o.Persistent:
		return ErrPreemptWithPersistent
	case o.Persistent && q.priority == PriorityMicrotask:
		return ErrPersistentMicrotask
	case !o.Async.valid():
		return ErrInvalidAsyncMode
	}
	return nil
}

// insertLocked places t per its disposition: preempt tasks are processed
// next, due tasks are pending, and all others are delayed.
func (q *TaskQueue) insertLocked(t *Task, now time.Time) {
	switch {
	case t.preempt:
		q.processing.pushBack(t)
	case !t.queueTime.After(now):
		q.pending.pushBack(t)
	default:
		q.delayed.insertSorted(t)
	}
}

// removeLocked unlinks a pending task from whichever list holds it. Preempt
// tasks only ever reside in processing, and tasks that are not yet due only
// in delayed, so those lists are checked first.
func (q *TaskQueue) removeLocked(t *Task, now time.Time) error {
	switch {
	case t.preempt:
		if q.processing.remove(t) {
			return nil
		}
	case t.queueTime.After(now):
		if q.delayed.remove(t) {
			return nil
		}
	}
	if q.pending.remove(t) || q.processing.remove(t) || q.delayed.remove(t) {
		return nil
	}
	return &TaskNotFoundError{TaskID: t.id, Priority: q.priority}
}

// Flush runs every task that is due, in order. It is intended to be called
// by the host, in response to a flush request, and must not be called
// concurrently for the same queue.
//
// The first error returned by a synchronous task without a result consumer
// stops processing, and is returned, after the queue has requested a flush
// for the remaining work.
func (q *TaskQueue) Flush() error {
	begin := time.Now()

	q.mu.Lock()
	q.flushRequested = false
	q.delayedRequest = false
	q.flushing++
	q.stats.Flushes++
	clamp := q.clampTask
	q.clampTask = nil
	q.mu.Unlock()

	if clamp != nil {
		clamp.Cancel()
	}

	q.mu.Lock()

	q.promoteLocked(q.s.clock.Now())

	var (
		err error
		ran int
	)
	for q.processing.head != nil {
		ran++
		if err = q.run(q.processing.head); err != nil {
			break
		}
	}

	now := q.s.clock.Now()
	q.promoteLocked(now)
	clampDelay, needClamp := q.wakeLocked(now)
	q.flushing--
	var yield ResolveFunc
	if q.flushing == 0 {
		yield = q.takeYieldLocked()
	}

	q.mu.Unlock()

	if needClamp {
		q.clamp(clampDelay)
	}

	if yield != nil {
		yield(nil)
	}

	q.s.logger.Trace().
		Stringer(`priority`, q.priority).
		Int(`ran`, ran).
		Dur(`duration`, time.Since(begin)).
		Log(`scheduler: flushed task queue`)

	return err
}

// promoteLocked moves all pending tasks, then the due prefix of delayed
// tasks, onto processing.
func (q *TaskQueue) promoteLocked(now time.Time) {
	q.processing.spliceAll(&q.pending)
	q.processing.spliceDue(&q.delayed, now)
}

// wakeLocked requests a flush for any outstanding work. The microtask queue
// cannot wait on timers, and instead returns the delay for a clamp task,
// which must be queued (without the lock held) via clamp.
func (q *TaskQueue) wakeLocked(now time.Time) (time.Duration, bool) {
	switch {
	case q.processing.size != 0 || q.pending.size != 0:
		q.requestFlushLocked(now)
	case q.delayed.size != 0:
		d := max(0, q.delayed.head.queueTime.Sub(now))
		if q.priority == PriorityMicrotask {
			return d, q.clampTask == nil
		}
		q.requestDelayedFlushLocked(now, d)
	}
	return 0, false
}

// clamp queues a macrotask that requests a flush of q, after delay.
func (q *TaskQueue) clamp(delay time.Duration) {
	macro := q.s.queues[PriorityMacrotask]
	t, err := macro.QueueTask(func(time.Duration) (any, error) {
		q.requestFlush()
		return nil, nil
	}, &QueueTaskOptions{Delay: delay})
	if err != nil {
		panic(err) // unreachable
	}
	q.mu.Lock()
	// the queue may have been emptied since the flush released the lock
	if q.clampTask == nil && !q.isEmptyLocked() {
		q.clampTask = t
		t = nil
	}
	q.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

func (q *TaskQueue) requestFlush() {
	now := q.s.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requestFlushLocked(now)
}

func (q *TaskQueue) requestFlushLocked(now time.Time) {
	if q.flushRequested && !q.delayedRequest {
		return
	}
	q.flushRequested = true
	q.delayedRequest = false
	q.lastRequest = now
	q.requestor.Request()
}

func (q *TaskQueue) requestDelayedFlushLocked(now time.Time, delay time.Duration) {
	if q.flushRequested {
		return
	}
	requestor, ok := q.requestor.(DelayedFlushRequestor)
	if !ok {
		q.requestFlushLocked(now)
		return
	}
	q.flushRequested = true
	q.delayedRequest = true
	q.lastRequest = now
	requestor.RequestDelayed(delay)
}

// Cancel withdraws any outstanding flush request. Queued tasks are
// unaffected, and will not run until another flush is requested.
func (q *TaskQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelLocked()
}

func (q *TaskQueue) cancelLocked() {
	q.flushRequested = false
	q.delayedRequest = false
	q.requestor.Cancel()
}

// idleLocked withdraws the flush request of a queue left empty, returning
// any clamp task, which must be canceled after unlocking.
func (q *TaskQueue) idleLocked() *Task {
	q.cancelLocked()
	clamp := q.clampTask
	q.clampTask = nil
	return clamp
}

// FlushRequested reports whether a flush request is outstanding.
func (q *TaskQueue) FlushRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushRequested
}

// IsEmpty reports whether the queue holds no tasks, and is not waiting on
// any asynchronous tasks.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isEmptyLocked()
}

func (q *TaskQueue) isEmptyLocked() bool {
	return q.processing.size == 0 &&
		q.pending.size == 0 &&
		q.delayed.size == 0 &&
		q.inflight == 0
}

// Yield returns a promise that is fulfilled once the queue has no
// outstanding non-persistent work, evaluated at the end of each flush, and
// as asynchronous tasks settle. An already fulfilled promise is returned if
// the queue is empty.
func (q *TaskQueue) Yield() *Promise {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isEmptyLocked() {
		return resolvedNil
	}
	if q.yieldWaiter == nil {
		q.yieldWaiter, q.yieldResolve, _ = NewPromise()
	}
	return q.yieldWaiter
}

func (q *TaskQueue) hasFiniteWorkLocked() bool {
	return q.inflight != 0 ||
		q.processing.hasFinite() ||
		q.pending.hasFinite() ||
		q.delayed.hasFinite()
}

// takeYieldLocked returns the yield waiter's resolver, if there is a waiter,
// and no finite work remains.
func (q *TaskQueue) takeYieldLocked() ResolveFunc {
	if q.yieldResolve == nil || q.hasFiniteWorkLocked() {
		return nil
	}
	resolve := q.yieldResolve
	q.yieldWaiter = nil
	q.yieldResolve = nil
	return resolve
}

// Take moves a pending task, which may belong to another queue (including
// one owned by a different scheduler), into this queue. The task's
// disposition is preserved: preempt tasks are processed next, due tasks are
// pending, and all others are delayed.
func (q *TaskQueue) Take(t *Task) error {
	src := q.lockPair(t)
	now := q.s.clock.Now()

	unlock := func() {
		if src != q {
			src.mu.Unlock()
		}
		q.mu.Unlock()
	}

	if t.status != TaskPending {
		unlock()
		return ErrTaskNotPending
	}
	if t.persistent && q.priority == PriorityMicrotask {
		unlock()
		return ErrPersistentMicrotask
	}
	if err := src.removeLocked(t, now); err != nil {
		unlock()
		return err
	}

	t.queue.Store(q)
	t.priority = q.priority

	if q.processing.size == 0 {
		q.requestFlushLocked(now)
	}
	q.insertLocked(t, now)

	var (
		yield ResolveFunc
		clamp *Task
	)
	if src != q {
		if src.isEmptyLocked() {
			clamp = src.idleLocked()
		}
		if src.flushing == 0 {
			yield = src.takeYieldLocked()
		}
	}

	unlock()

	if clamp != nil {
		clamp.Cancel()
	}
	if yield != nil {
		yield(nil)
	}

	return nil
}

// lockPair locks both q and the queue that owns t, in a consistent order,
// returning the latter.
func (q *TaskQueue) lockPair(t *Task) *TaskQueue {
	for {
		src := t.queue.Load()
		first, second := src, q
		if second.seq < first.seq {
			first, second = second, first
		}
		first.mu.Lock()
		if second != first {
			second.mu.Lock()
		}
		if t.queue.Load() == src {
			return src
		}
		if second != first {
			second.mu.Unlock()
		}
		first.mu.Unlock()
	}
}

// Stats returns a snapshot of the queue's state and counters.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	stats := q.stats
	stats.LastRequest = q.lastRequest
	stats.Processing = q.processing.size
	stats.Pending = q.pending.size
	stats.Delayed = q.delayed.size
	stats.Pooled = len(q.pool)
	stats.InFlight = q.inflight
	stats.Priority = q.priority
	stats.FlushRequested = q.flushRequested
	q.mu.Unlock()
	stats.Run = q.metrics.snapshot()
	return stats
}

// disposeLocked releases everything the task references, other than its
// final value and error.
func (q *TaskQueue) disposeLocked(t *Task) {
	t.prev = nil
	t.next = nil
	t.callback = nil
	t.result = nil
	t.resolve = nil
	t.reject = nil
}

func (q *TaskQueue) returnToPoolLocked(t *Task) {
	if limit := q.s.poolLimit; limit > 0 && len(q.pool) >= limit {
		q.s.logger.Debug().
			Stringer(`priority`, q.priority).
			Int(`limit`, limit).
			Log(`scheduler: task pool full, discarding task`)
		return
	}
	q.pool = append(q.pool, t)
}

// resetPersistentTaskLocked re-arms t, preserving its delay. Outside a
// flush, it also requests a flush, as the end of the flush would otherwise
// be responsible for doing so.
func (q *TaskQueue) resetPersistentTaskLocked(t *Task, now time.Time) (time.Duration, bool) {
	t.reset(now)
	if t.delay == 0 {
		q.pending.pushBack(t)
	} else {
		q.delayed.insertSorted(t)
	}
	if q.flushing == 0 {
		return q.wakeLocked(now)
	}
	return 0, false
}

// taskRun models the state of a single run of a task.
type taskRun struct {
	task  *Task
	begin time.Time
	// elapsed is the value passed to the callback
	elapsed time.Duration
	// persistent is the task's persistence at the start of the run
	persistent bool
	async      bool
	// counted indicates the run was added to inflight
	counted bool
	settled atomic.Bool
}

// run executes t, which must be the head of processing. Must be called with
// q.mu held, which is released while the callback runs, and reacquired
// prior to returning.
func (q *TaskQueue) run(t *Task) error {
	now := q.s.clock.Now()

	q.processing.unlink(t)
	if t.status != TaskPending {
		return fmt.Errorf(`scheduler: task %d (%s): %w`, t.id, q.priority, ErrTaskNotPending)
	}
	t.status = TaskRunning

	r := &taskRun{
		task:       t,
		elapsed:    now.Sub(t.createdTime),
		persistent: t.persistent,
	}
	callback, mode := t.callback, t.async

	var event TaskEvent
	if q.s.observing() {
		event = t.eventLocked(TaskEventStarted, now)
		event.Elapsed = r.elapsed
	}

	q.mu.Unlock()

	if event.Kind != 0 {
		q.s.observe(event)
	}

	r.begin = time.Now()

	value, err := invoke(callback, r.elapsed)

	if err == nil && mode != AsyncNever {
		thenable, ok := value.(Thenable)
		if ok || mode == AsyncAlways {
			r.async = true
			q.mu.Lock()
			if !r.persistent {
				r.counted = true
				q.inflight++
			}
			q.mu.Unlock()
			if !ok {
				q.settle(r, value, nil)
			} else {
				thenable.Then(
					func(value any) { q.settle(r, value, nil) },
					func(err error) {
						if err == nil {
							err = errNilRejection
						}
						q.settle(r, nil, err)
					},
				)
			}
			q.mu.Lock()
			return nil
		}
	}

	err = q.settle(r, value, err)
	q.mu.Lock()
	return err
}

var errNilRejection = fmt.Errorf(`scheduler: thenable rejected with nil error`)

// invoke calls callback, converting any panic into a *PanicError.
func invoke(callback TaskFunc, elapsed time.Duration) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return callback(elapsed)
}

// settle applies the outcome of a run. Synchronous errors without a result
// consumer are returned, asynchronous ones are reported to the scheduler's
// error handler. Must be called without q.mu held. Only the first call, for
// a given run, has any effect.
func (q *TaskQueue) settle(r *taskRun, value any, err error) error {
	if !r.settled.CompareAndSwap(false, true) {
		return nil
	}

	runDuration := time.Since(r.begin)
	q.metrics.record(runDuration)

	t := r.task
	now := q.s.clock.Now()

	q.mu.Lock()

	resolve, reject := t.resolve, t.reject
	id := t.id

	final := TaskCompleted
	if r.persistent {
		final = TaskCanceled
	}

	var (
		kind       TaskEventKind
		clampDelay time.Duration
		needClamp  bool
		event      TaskEvent
	)

	switch {
	case err != nil:
		kind = TaskEventFailed
		q.stats.Failed++
		t.status = final
		t.value = nil
		t.err = err
		if reject == nil && r.async {
			q.stats.Unhandled++
		}

	case t.persistent:
		kind = TaskEventRearmed
		q.stats.Rearmed++
		t.value = value

	default:
		kind = TaskEventCompleted
		if final == TaskCanceled {
			kind = TaskEventCanceled
			q.stats.Canceled++
		} else {
			q.stats.Completed++
		}
		t.status = final
		t.value = value
		t.err = nil
	}

	if q.s.observing() {
		event = t.eventLocked(kind, now)
		event.Elapsed = r.elapsed
		event.RunDuration = runDuration
		event.Async = r.async
	}

	switch {
	case kind == TaskEventRearmed:
		clampDelay, needClamp = q.resetPersistentTaskLocked(t, now)
		event.Status = TaskPending
	case kind == TaskEventFailed:
		q.disposeLocked(t)
	default:
		q.disposeLocked(t)
		if t.reusable {
			q.returnToPoolLocked(t)
		}
	}

	if r.counted {
		q.inflight--
	}

	var yield ResolveFunc
	if r.async && q.flushing == 0 {
		yield = q.takeYieldLocked()
	}

	q.mu.Unlock()

	if needClamp {
		q.clamp(clampDelay)
	}

	if err != nil {
		switch {
		case reject != nil:
			reject(err)
		case r.async:
			q.s.unhandled(q, t, id, err)
		default:
			err = fmt.Errorf(`scheduler: task %d (%s): %w`, id, q.priority, err)
		}
	} else if resolve != nil {
		resolve(value)
	}

	if yield != nil {
		yield(nil)
	}

	if event.Kind != 0 {
		q.s.observe(event)
	}

	if err != nil && reject == nil && !r.async {
		return err
	}
	return nil
}
