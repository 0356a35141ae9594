package hostloop

import (
	"sync"
	"time"

	"github.com/joeycumines/go-scheduler"
)

type (
	flushRequestorFactory struct {
		loop *Loop
	}

	// flushRequestor binds a scheduler queue to the loop primitive for its
	// priority. Each request is tagged with a generation, so callbacks for
	// superseded or canceled requests are ignored, even where the
	// underlying primitive cannot be canceled.
	flushRequestor struct {
		loop     *Loop
		flusher  scheduler.Flusher
		cancel   func()
		gen      uint64
		mu       sync.Mutex
		priority scheduler.Priority
	}
)

var (
	// compile time assertions

	_ scheduler.FlushRequestorFactory  = (*flushRequestorFactory)(nil)
	_ scheduler.DelayedFlushRequestor = (*flushRequestor)(nil)
)

// NewFlushRequestorFactory binds each priority to a loop primitive:
//
//   - microtask: [Loop.ScheduleMicrotask]
//   - render: [Loop.RequestAnimationFrame]
//   - macrotask: [Loop.Submit]
//   - postRender: an animation frame, followed by a macrotask
//   - idle: [Loop.RequestIdleCallback]
//
// Delayed requests use [Loop.ScheduleTimer], followed by the primitive for
// the priority. Flush errors are reported via the loop's error handler, or
// logged.
func NewFlushRequestorFactory(loop *Loop) scheduler.FlushRequestorFactory {
	return &flushRequestorFactory{loop: loop}
}

// NewScheduler initializes a [scheduler.Scheduler] that uses loop as both
// its clock and host.
func NewScheduler(loop *Loop, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	return scheduler.New(loop, NewFlushRequestorFactory(loop), opts...)
}

func (x *flushRequestorFactory) NewFlushRequestor(priority scheduler.Priority, flusher scheduler.Flusher) scheduler.FlushRequestor {
	return &flushRequestor{
		loop:     x.loop,
		flusher:  flusher,
		priority: priority,
	}
}

func (x *flushRequestor) Request() {
	x.mu.Lock()
	defer x.mu.Unlock()
	gen := x.supersedeLocked()
	x.dispatchLocked(gen)
}

func (x *flushRequestor) RequestDelayed(delay time.Duration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	gen := x.supersedeLocked()
	id, err := x.loop.ScheduleTimer(delay, func() {
		x.mu.Lock()
		defer x.mu.Unlock()
		if x.gen == gen {
			x.cancel = nil
			x.dispatchLocked(gen)
		}
	})
	if err != nil {
		x.failedLocked(err)
		return
	}
	x.cancel = func() { x.loop.CancelTimer(id) }
}

func (x *flushRequestor) Cancel() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.supersedeLocked()
}

// supersedeLocked invalidates any outstanding request, returning the new
// generation.
func (x *flushRequestor) supersedeLocked() uint64 {
	x.gen++
	if x.cancel != nil {
		x.cancel()
		x.cancel = nil
	}
	return x.gen
}

// dispatchLocked requests a flush via the primitive for the priority.
func (x *flushRequestor) dispatchLocked(gen uint64) {
	fire := func() { x.fire(gen) }
	var err error
	switch x.priority {
	case scheduler.PriorityMicrotask:
		err = x.loop.ScheduleMicrotask(fire)
	case scheduler.PriorityRender:
		var id FrameID
		if id, err = x.loop.RequestAnimationFrame(fire); err == nil {
			x.cancel = func() { x.loop.CancelAnimationFrame(id) }
		}
	case scheduler.PriorityPostRender:
		var id FrameID
		if id, err = x.loop.RequestAnimationFrame(func() {
			if err := x.loop.Submit(fire); err != nil {
				x.failed(gen, err)
			}
		}); err == nil {
			x.cancel = func() { x.loop.CancelAnimationFrame(id) }
		}
	case scheduler.PriorityIdle:
		var id IdleID
		if id, err = x.loop.RequestIdleCallback(fire); err == nil {
			x.cancel = func() { x.loop.CancelIdleCallback(id) }
		}
	default:
		err = x.loop.Submit(fire)
	}
	if err != nil {
		x.failedLocked(err)
	}
}

func (x *flushRequestor) fire(gen uint64) {
	x.mu.Lock()
	if x.gen != gen {
		x.mu.Unlock()
		return
	}
	x.cancel = nil
	x.mu.Unlock()
	if err := x.flusher.Flush(); err != nil {
		x.loop.report(err)
	}
}

func (x *flushRequestor) failed(gen uint64, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.gen == gen {
		x.failedLocked(err)
	}
}

// failedLocked handles failure to request a flush, which is only expected
// once the loop has terminated.
func (x *flushRequestor) failedLocked(err error) {
	x.cancel = nil
	x.loop.logger.Debug().
		Err(err).
		Stringer(`priority`, x.priority).
		Log(`hostloop: failed to request flush`)
}
