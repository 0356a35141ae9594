package hostloop

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/logiface"
)

// budget bounds the number of callbacks run by a single phase, of a single
// tick, so that self-perpetuating work cannot starve the other phases.
const budget = 1024

// LoopState is the lifecycle state of a [Loop]. States only advance, except
// for Running and Sleeping, which alternate while the loop polls.
type LoopState uint32

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is processing callbacks.
	StateRunning
	// StateSleeping indicates the loop is blocked, waiting for work.
	StateSleeping
	// StateTerminating indicates the loop is draining, or discarding, work.
	StateTerminating
	// StateTerminated indicates the loop has stopped, and rejects new work.
	StateTerminated
)

var loopStateNames = [...]string{
	StateAwake:       `Awake`,
	StateRunning:     `Running`,
	StateSleeping:    `Sleeping`,
	StateTerminating: `Terminating`,
	StateTerminated:  `Terminated`,
}

func (s LoopState) String() string {
	if int(s) < len(loopStateNames) {
		return loopStateNames[s]
	}
	return `Unknown`
}

type (
	// TimerID identifies a timer, see [Loop.ScheduleTimer].
	TimerID uint64

	// FrameID identifies an animation frame callback, see
	// [Loop.RequestAnimationFrame].
	FrameID uint64

	// IdleID identifies an idle callback, see [Loop.RequestIdleCallback].
	IdleID uint64

	// Loop is an event loop, hosting callbacks on a single goroutine. It
	// implements [scheduler.Clock]. Instances must be initialized using the
	// [New] factory.
	Loop struct { // betteralign:ignore
		_ [0]func()

		// state is a LoopState, only changed via CAS while the loop may be
		// running
		state atomic.Uint32

		logger       *logiface.Logger[logiface.Event]
		errorHandler func(err error)

		// wake is signaled (non-blocking, buffered) whenever work is added
		wake chan struct{}
		// done is closed once the loop has terminated
		done chan struct{}

		timers     timerHeap
		timerIndex map[TimerID]*timer
		// frames are the callbacks for the next animation frame, while
		// frameBatch are those for the current one
		frames     []pendingCallback
		frameBatch []pendingCallback
		idle       []pendingCallback
		macrotasks chunkedQueue
		microtasks chunkedQueue

		lastFrame     time.Time
		frameInterval time.Duration

		nextID   uint64
		timerSeq uint64

		mu       sync.Mutex
		doneOnce sync.Once

		// abandon indicates queued work should be discarded, see Close
		abandon atomic.Bool

		strictMicrotaskOrdering bool
	}

	pendingCallback struct {
		fn func()
		id uint64
	}
)

var (
	// compile time assertions

	_ scheduler.Clock = (*Loop)(nil)
)

// New initializes a [Loop], which must be started using [Loop.Run].
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Loop{
		logger:                  cfg.logger,
		errorHandler:            cfg.errorHandler,
		wake:                    make(chan struct{}, 1),
		done:                    make(chan struct{}),
		timerIndex:              make(map[TimerID]*timer),
		frameInterval:           cfg.frameInterval,
		strictMicrotaskOrdering: cfg.strictMicrotaskOrdering,
	}, nil
}

func (l *Loop) loadState() LoopState { return LoopState(l.state.Load()) }

func (l *Loop) casState(from, to LoopState) bool {
	return l.state.CompareAndSwap(uint32(from), uint32(to))
}

// Now returns the current time, implementing [scheduler.Clock].
func (l *Loop) Now() time.Time { return time.Now() }

// State returns the current loop state.
func (l *Loop) State() LoopState { return l.loadState() }

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run runs the event loop, on the calling goroutine, until it is terminated
// by [Loop.Shutdown], [Loop.Close], or ctx, in which case the context's
// error is returned. Queued macrotasks and microtasks are drained prior to
// returning, unless the loop was closed.
func (l *Loop) Run(ctx context.Context) error {
	if !l.casState(StateAwake, StateRunning) {
		switch l.loadState() {
		case StateTerminating, StateTerminated:
			return ErrLoopTerminated
		default:
			return ErrLoopAlreadyRunning
		}
	}

	defer l.closeDone()

	l.mu.Lock()
	l.lastFrame = time.Now().Add(-l.frameInterval)
	l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			l.terminate()
			l.shutdown()
			return err
		}
		if l.loadState() == StateTerminating {
			l.shutdown()
			return nil
		}
		l.tick()
		l.poll(ctx)
	}
}

// Shutdown gracefully terminates the loop, blocking until it has drained
// queued macrotasks and microtasks, or ctx is done. Pending timers,
// animation frames, and idle callbacks are discarded.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.terminate()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the loop without draining queued work, and without
// waiting for the current callback to return.
func (l *Loop) Close() error {
	l.abandon.Store(true)
	l.terminate()
	return nil
}

// terminate transitions to StateTerminating, or directly to StateTerminated
// if the loop was never started.
func (l *Loop) terminate() {
	for {
		switch current := l.loadState(); current {
		case StateTerminating, StateTerminated:
			return
		case StateAwake:
			if l.casState(StateAwake, StateTerminating) {
				l.discard()
				l.closeDone()
				return
			}
		default:
			if l.casState(current, StateTerminating) {
				l.wakeup()
				return
			}
		}
	}
}

// shutdown drains, unless abandoned, then discards all remaining work.
func (l *Loop) shutdown() {
	for {
		if !l.abandon.Load() {
			for l.drainOnce() {
			}
		}
		l.mu.Lock()
		if !l.abandon.Load() && (l.macrotasks.Len() != 0 || l.microtasks.Len() != 0) {
			l.mu.Unlock()
			continue
		}
		l.discardLocked()
		l.mu.Unlock()
		return
	}
}

func (l *Loop) drainOnce() bool {
	ran := l.runMacrotasks()
	if l.drainMicrotasks() {
		ran = true
	}
	return ran
}

func (l *Loop) discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discardLocked()
}

func (l *Loop) discardLocked() {
	l.state.Store(uint32(StateTerminated))
	for {
		if _, ok := l.macrotasks.Pop(); !ok {
			break
		}
	}
	for {
		if _, ok := l.microtasks.Pop(); !ok {
			break
		}
	}
	l.timers = nil
	clear(l.timerIndex)
	l.frames = nil
	l.frameBatch = nil
	l.idle = nil
}

func (l *Loop) closeDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.runTimers()
	l.drainMicrotasks()
	l.runMacrotasks()
	l.drainMicrotasks()
	l.runFrame()
	l.drainMicrotasks()
	l.runIdle()
	l.drainMicrotasks()
}

// runTimers runs the timers that were due at the start of the phase.
func (l *Loop) runTimers() {
	now := time.Now()
	l.mu.Lock()
	limit := l.timerSeq
	l.mu.Unlock()
	for range budget {
		if l.abandon.Load() {
			return
		}
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) || l.timers[0].seq > limit {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*timer)
		delete(l.timerIndex, t.id)
		l.mu.Unlock()
		l.execute(t.fn)
	}
}

// runMacrotasks runs the macrotasks queued at the start of the phase,
// reporting whether any ran.
func (l *Loop) runMacrotasks() bool {
	l.mu.Lock()
	n := min(l.macrotasks.Len(), budget)
	l.mu.Unlock()
	for range n {
		if l.abandon.Load() {
			break
		}
		l.mu.Lock()
		fn, _ := l.macrotasks.Pop()
		l.mu.Unlock()
		l.execute(fn)
	}
	return n != 0
}

// drainMicrotasks runs microtasks until none remain, reporting whether any
// ran.
func (l *Loop) drainMicrotasks() bool {
	var ran bool
	for range budget {
		if l.abandon.Load() {
			break
		}
		l.mu.Lock()
		fn, ok := l.microtasks.Pop()
		l.mu.Unlock()
		if !ok {
			break
		}
		ran = true
		l.safeExecute(fn)
	}
	return ran
}

// runFrame runs every animation frame callback requested prior to the
// frame, if one is due.
func (l *Loop) runFrame() {
	now := time.Now()
	l.mu.Lock()
	if len(l.frames) == 0 || now.Before(l.lastFrame.Add(l.frameInterval)) {
		l.mu.Unlock()
		return
	}
	l.lastFrame = now
	l.frameBatch, l.frames = l.frames, nil
	l.mu.Unlock()

	for i := 0; ; i++ {
		l.mu.Lock()
		if i >= len(l.frameBatch) {
			l.frameBatch = nil
			l.mu.Unlock()
			return
		}
		fn := l.frameBatch[i].fn
		l.mu.Unlock()
		if fn != nil && !l.abandon.Load() {
			l.execute(fn)
		}
	}
}

// runIdle runs a single idle callback, if nothing else is runnable.
func (l *Loop) runIdle() {
	l.mu.Lock()
	if len(l.idle) == 0 || l.busyLocked(time.Now()) || l.abandon.Load() {
		l.mu.Unlock()
		return
	}
	fn := l.idle[0].fn
	l.idle[0] = pendingCallback{}
	l.idle = l.idle[1:]
	l.mu.Unlock()
	l.execute(fn)
}

// busyLocked reports whether anything other than idle callbacks is
// runnable.
func (l *Loop) busyLocked(now time.Time) bool {
	return l.macrotasks.Len() != 0 ||
		l.microtasks.Len() != 0 ||
		(len(l.timers) != 0 && !l.timers[0].when.After(now)) ||
		(len(l.frames) != 0 && !now.Before(l.lastFrame.Add(l.frameInterval)))
}

// timeoutLocked returns how long the loop may sleep, or false if it may
// sleep until woken.
func (l *Loop) timeoutLocked(now time.Time) (time.Duration, bool) {
	if l.busyLocked(now) || len(l.idle) != 0 {
		return 0, true
	}
	var (
		timeout time.Duration
		ok      bool
	)
	if len(l.timers) != 0 {
		timeout, ok = l.timers[0].when.Sub(now), true
	}
	if len(l.frames) != 0 {
		if d := l.lastFrame.Add(l.frameInterval).Sub(now); !ok || d < timeout {
			timeout, ok = d, true
		}
	}
	return max(0, timeout), ok
}

// poll blocks until there is work to do.
func (l *Loop) poll(ctx context.Context) {
	if !l.casState(StateRunning, StateSleeping) {
		return
	}
	defer l.casState(StateSleeping, StateRunning)

	l.mu.Lock()
	timeout, ok := l.timeoutLocked(time.Now())
	l.mu.Unlock()

	var timerC <-chan time.Time
	if ok {
		if timeout <= 0 {
			return
		}
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-l.wake:
	case <-timerC:
	case <-ctx.Done():
	}
}

func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// execute runs a (non-microtask) callback.
func (l *Loop) execute(fn func()) {
	l.safeExecute(fn)
	if l.strictMicrotaskOrdering {
		l.drainMicrotasks()
	}
}

// safeExecute executes fn with panic recovery.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.report(&scheduler.PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	fn()
}

// report passes err to the error handler, or logs it.
func (l *Loop) report(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
		return
	}
	l.logger.Err().
		Err(err).
		Log(`hostloop: callback failed`)
}

// enqueue runs fn under the lock, if the loop accepts work, then wakes it.
func (l *Loop) enqueue(fn func()) error {
	l.mu.Lock()
	if l.loadState() == StateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	fn()
	l.mu.Unlock()
	l.wakeup()
	return nil
}

// Submit queues a macrotask. Work may be submitted before the loop is
// started, and while it is shutting down.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return ErrNilCallback
	}
	return l.enqueue(func() { l.macrotasks.Push(fn) })
}

// ScheduleMicrotask queues a microtask, which runs before the next
// macrotask, or after the current callback, with strict ordering.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	if fn == nil {
		return ErrNilCallback
	}
	return l.enqueue(func() { l.microtasks.Push(fn) })
}

// ScheduleTimer runs fn, as a macrotask, once delay has elapsed. Timers with
// the same due time run in scheduling order.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	var id TimerID
	err := l.enqueue(func() {
		l.nextID++
		l.timerSeq++
		id = TimerID(l.nextID)
		t := &timer{
			when: time.Now().Add(max(0, delay)),
			fn:   fn,
			id:   id,
			seq:  l.timerSeq,
		}
		heap.Push(&l.timers, t)
		l.timerIndex[id] = t
	})
	return id, err
}

// CancelTimer cancels a timer that has not yet run, reporting whether it
// did so.
func (l *Loop) CancelTimer(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.timerIndex[id]
	if !ok {
		return false
	}
	delete(l.timerIndex, id)
	heap.Remove(&l.timers, t.index)
	return true
}

// RequestAnimationFrame runs fn during the next animation frame. Frames run
// at most once per frame interval, and only if a callback was requested.
func (l *Loop) RequestAnimationFrame(fn func()) (FrameID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	var id FrameID
	err := l.enqueue(func() {
		l.nextID++
		id = FrameID(l.nextID)
		l.frames = append(l.frames, pendingCallback{fn: fn, id: l.nextID})
	})
	return id, err
}

// CancelAnimationFrame cancels an animation frame callback that has not yet
// run, including one that is part of the frame in progress.
func (l *Loop) CancelAnimationFrame(id FrameID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := indexCallback(l.frames, uint64(id)); i >= 0 {
		l.frames = append(l.frames[:i], l.frames[i+1:]...)
		return true
	}
	if i := indexCallback(l.frameBatch, uint64(id)); i >= 0 && l.frameBatch[i].fn != nil {
		l.frameBatch[i].fn = nil
		return true
	}
	return false
}

// RequestIdleCallback runs fn once the loop has nothing else to do. Idle
// callbacks run one per tick, in request order.
func (l *Loop) RequestIdleCallback(fn func()) (IdleID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	var id IdleID
	err := l.enqueue(func() {
		l.nextID++
		id = IdleID(l.nextID)
		l.idle = append(l.idle, pendingCallback{fn: fn, id: l.nextID})
	})
	return id, err
}

// CancelIdleCallback cancels an idle callback that has not yet run.
func (l *Loop) CancelIdleCallback(id IdleID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := indexCallback(l.idle, uint64(id)); i >= 0 {
		l.idle = append(l.idle[:i], l.idle[i+1:]...)
		return true
	}
	return false
}

func indexCallback(callbacks []pendingCallback, id uint64) int {
	for i, v := range callbacks {
		if v.id == id {
			return i
		}
	}
	return -1
}
