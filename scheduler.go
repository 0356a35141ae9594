package scheduler

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Scheduler owns one [TaskQueue] per [Priority], sharing a single [Clock].
// Instances must be initialized using the [New] factory, and are intended to
// be constructed once, by the application's composition root.
type Scheduler struct {
	clock        Clock
	logger       *logiface.Logger[logiface.Event]
	errorHandler func(task *Task, err error)
	errorLimiter *catrate.Limiter
	observers    []Observer
	queues       [numPriorities]*TaskQueue
	poolLimit    int
}

// New initializes a [Scheduler]. A nil clock defaults to [SystemClock]. The
// factory is called once per priority, in ascending order.
func New(clock Clock, factory FlushRequestorFactory, opts ...Option) (*Scheduler, error) {
	if factory == nil {
		return nil, ErrNilFlushRequestorFactory
	}
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}

	s := &Scheduler{
		clock:        clock,
		logger:       cfg.logger,
		errorHandler: cfg.errorHandler,
		errorLimiter: cfg.errorLimiter,
		observers:    cfg.observers,
		poolLimit:    cfg.poolLimit,
	}

	for _, p := range Priorities() {
		s.queues[p] = newTaskQueue(s, p, cfg.metrics)
	}
	for _, p := range Priorities() {
		q := s.queues[p]
		q.requestor = factory.NewFlushRequestor(p, q)
		if q.requestor == nil {
			return nil, ErrNilFlushRequestor
		}
	}

	return s, nil
}

// Now returns the current time, per the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// TaskQueue returns the queue for the given priority, or nil if it is
// invalid.
func (s *Scheduler) TaskQueue(priority Priority) *TaskQueue {
	if !priority.Valid() {
		return nil
	}
	return s.queues[priority]
}

// MicrotaskQueue returns the queue for [PriorityMicrotask].
func (s *Scheduler) MicrotaskQueue() *TaskQueue { return s.queues[PriorityMicrotask] }

// RenderQueue returns the queue for [PriorityRender].
func (s *Scheduler) RenderQueue() *TaskQueue { return s.queues[PriorityRender] }

// MacrotaskQueue returns the queue for [PriorityMacrotask].
func (s *Scheduler) MacrotaskQueue() *TaskQueue { return s.queues[PriorityMacrotask] }

// PostRenderQueue returns the queue for [PriorityPostRender].
func (s *Scheduler) PostRenderQueue() *TaskQueue { return s.queues[PriorityPostRender] }

// IdleQueue returns the queue for [PriorityIdle].
func (s *Scheduler) IdleQueue() *TaskQueue { return s.queues[PriorityIdle] }

// QueueTask queues callback on the queue for the given priority. See
// [TaskQueue.QueueTask].
func (s *Scheduler) QueueTask(priority Priority, callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	if !priority.Valid() {
		return nil, &InvalidPriorityError{Value: priority}
	}
	return s.queues[priority].QueueTask(callback, opts)
}

// QueueMicrotask queues callback on the microtask queue.
func (s *Scheduler) QueueMicrotask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	return s.queues[PriorityMicrotask].QueueTask(callback, opts)
}

// QueueRenderTask queues callback on the render queue.
func (s *Scheduler) QueueRenderTask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	return s.queues[PriorityRender].QueueTask(callback, opts)
}

// QueueMacrotask queues callback on the macrotask queue.
func (s *Scheduler) QueueMacrotask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	return s.queues[PriorityMacrotask].QueueTask(callback, opts)
}

// QueuePostRenderTask queues callback on the post-render queue.
func (s *Scheduler) QueuePostRenderTask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	return s.queues[PriorityPostRender].QueueTask(callback, opts)
}

// QueueIdleTask queues callback on the idle queue.
func (s *Scheduler) QueueIdleTask(callback TaskFunc, opts *QueueTaskOptions) (*Task, error) {
	return s.queues[PriorityIdle].QueueTask(callback, opts)
}

// YieldMicrotask yields the microtask queue, see [TaskQueue.Yield].
func (s *Scheduler) YieldMicrotask() *Promise { return s.queues[PriorityMicrotask].Yield() }

// YieldRenderTask yields the render queue, see [TaskQueue.Yield].
func (s *Scheduler) YieldRenderTask() *Promise { return s.queues[PriorityRender].Yield() }

// YieldMacrotask yields the macrotask queue, see [TaskQueue.Yield].
func (s *Scheduler) YieldMacrotask() *Promise { return s.queues[PriorityMacrotask].Yield() }

// YieldPostRenderTask yields the post-render queue, see [TaskQueue.Yield].
func (s *Scheduler) YieldPostRenderTask() *Promise {
	return s.queues[PriorityPostRender].Yield()
}

// YieldIdleTask yields the idle queue, see [TaskQueue.Yield].
func (s *Scheduler) YieldIdleTask() *Promise { return s.queues[PriorityIdle].Yield() }

// YieldAll returns a promise that is fulfilled after yielding each queue in
// turn, from lowest to highest priority (idle, postRender, macrotask,
// render, microtask), repeated times times (minimum 1). Each yield is only
// requested once the previous one has been fulfilled, so work queued by
// lower priority tasks is also waited on. It never blocks.
func (s *Scheduler) YieldAll(times int) *Promise {
	times = max(1, times)
	steps := make([]*TaskQueue, 0, times*numPriorities)
	for range times {
		for p := PriorityIdle; p >= PriorityMicrotask; p-- {
			steps = append(steps, s.queues[p])
		}
	}
	p, resolve, reject := NewPromise()
	var next func(i int)
	next = func(i int) {
		if i == len(steps) {
			resolve(nil)
			return
		}
		steps[i].Yield().Then(func(any) { next(i + 1) }, reject)
	}
	next(0)
	return p
}

// Stats returns a snapshot of every queue, indexed by priority.
func (s *Scheduler) Stats() []QueueStats {
	stats := make([]QueueStats, len(s.queues))
	for i, q := range s.queues {
		stats[i] = q.Stats()
	}
	return stats
}

// unhandled reports an asynchronous task error that had no result consumer.
func (s *Scheduler) unhandled(q *TaskQueue, task *Task, id uint64, err error) {
	if s.errorHandler != nil {
		s.errorHandler(task, err)
		return
	}
	if _, ok := s.errorLimiter.Allow(q.priority); !ok {
		q.mu.Lock()
		q.stats.SuppressedLogs++
		q.mu.Unlock()
		return
	}
	s.logger.Err().
		Err(err).
		Uint64(`task`, id).
		Stringer(`priority`, q.priority).
		Log(`scheduler: unhandled task error`)
}
