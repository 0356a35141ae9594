package hostloop

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-scheduler"
)

// startLoop runs loop in the background, shutting it down on cleanup.
func startLoop(t *testing.T, loop *Loop) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loop.Shutdown(ctx); err != nil {
			t.Error(err)
		}
	})
	return errCh
}

func newLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return loop
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out`)
	}
}

func TestNew_invalidFrameInterval(t *testing.T) {
	if _, err := New(WithFrameInterval(0)); err == nil {
		t.Fatal(`expected error`)
	}
}

func TestLoop_Run_concurrentCallsOnlyOneSucceeds(t *testing.T) {
	loop := newLoop(t)

	const goroutines = 50
	var (
		wg       sync.WaitGroup
		success  atomic.Int32
		rejected atomic.Int32
		ready    = make(chan struct{})
	)
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			<-ready
			switch err := loop.Run(context.Background()); {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrLoopAlreadyRunning), errors.Is(err, ErrLoopTerminated):
				rejected.Add(1)
			default:
				t.Error(err)
			}
		}()
	}
	close(ready)

	time.Sleep(20 * time.Millisecond)
	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if success.Load() != 1 || rejected.Load() != goroutines-1 {
		t.Errorf(`success=%d rejected=%d`, success.Load(), rejected.Load())
	}
	if state := loop.State(); state != StateTerminated {
		t.Errorf(`unexpected state: %s`, state)
	}
	if err := loop.Run(context.Background()); !errors.Is(err, ErrLoopTerminated) {
		t.Errorf(`unexpected error: %v`, err)
	}
}

func TestLoop_tickOrder(t *testing.T) {
	loop := newLoop(t)
	var (
		order    []string
		finished = make(chan struct{})
	)
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	if _, err := loop.RequestIdleCallback(func() {
		order = append(order, `idle`)
		close(finished)
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.RequestAnimationFrame(record(`frame`)); err != nil {
		t.Fatal(err)
	}
	if err := loop.Submit(record(`macrotask`)); err != nil {
		t.Fatal(err)
	}
	if err := loop.ScheduleMicrotask(record(`microtask`)); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.ScheduleTimer(0, record(`timer`)); err != nil {
		t.Fatal(err)
	}

	startLoop(t, loop)
	waitFor(t, finished)
	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if want := []string{`timer`, `microtask`, `macrotask`, `frame`, `idle`}; !reflect.DeepEqual(order, want) {
		t.Errorf("got %v\nwant %v", order, want)
	}
}

func TestLoop_strictMicrotaskOrdering(t *testing.T) {
	for _, tc := range [...]struct {
		name   string
		strict bool
		want   []string
	}{
		{`strict`, true, []string{`m1`, `u1`, `m2`, `u2`}},
		{`batched`, false, []string{`m1`, `m2`, `u1`, `u2`}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			loop := newLoop(t, WithStrictMicrotaskOrdering(tc.strict))
			var order []string
			for _, n := range [...]string{`1`, `2`} {
				if err := loop.Submit(func() {
					order = append(order, `m`+n)
					if err := loop.ScheduleMicrotask(func() { order = append(order, `u`+n) }); err != nil {
						t.Error(err)
					}
				}); err != nil {
					t.Fatal(err)
				}
			}
			startLoop(t, loop)
			if err := loop.Shutdown(context.Background()); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(order, tc.want) {
				t.Errorf(`got %v, want %v`, order, tc.want)
			}
		})
	}
}

func TestLoop_timers(t *testing.T) {
	loop := newLoop(t)
	startLoop(t, loop)

	var (
		mu    sync.Mutex
		order []int
		done  = make(chan struct{})
	)
	record := func(v int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, v)
		}
	}

	if _, err := loop.ScheduleTimer(30*time.Millisecond, record(30)); err != nil {
		t.Fatal(err)
	}
	canceled, err := loop.ScheduleTimer(20*time.Millisecond, record(-1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loop.ScheduleTimer(10*time.Millisecond, record(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.ScheduleTimer(40*time.Millisecond, func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	if !loop.CancelTimer(canceled) {
		t.Error(`expected cancel`)
	}
	if loop.CancelTimer(canceled) {
		t.Error(`expected no-op`)
	}

	waitFor(t, done)
	mu.Lock()
	defer mu.Unlock()
	if want := []int{10, 30}; !reflect.DeepEqual(order, want) {
		t.Errorf(`got %v, want %v`, order, want)
	}
}

func TestLoop_cancelFrameAndIdle(t *testing.T) {
	loop := newLoop(t)
	var ran []string
	frame, err := loop.RequestAnimationFrame(func() { ran = append(ran, `frame`) })
	if err != nil {
		t.Fatal(err)
	}
	idle, err := loop.RequestIdleCallback(func() { ran = append(ran, `idle`) })
	if err != nil {
		t.Fatal(err)
	}
	if !loop.CancelAnimationFrame(frame) || !loop.CancelIdleCallback(idle) {
		t.Fatal(`expected cancel`)
	}
	if loop.CancelAnimationFrame(frame) || loop.CancelIdleCallback(idle) {
		t.Fatal(`expected no-op`)
	}

	done := make(chan struct{})
	if _, err := loop.RequestIdleCallback(func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	startLoop(t, loop)
	waitFor(t, done)
	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(ran) != 0 {
		t.Errorf(`unexpected: %v`, ran)
	}
}

func TestLoop_cancelFrameInProgress(t *testing.T) {
	loop := newLoop(t)
	var (
		ran    []string
		second FrameID
		done   = make(chan struct{})
	)
	if _, err := loop.RequestAnimationFrame(func() {
		ran = append(ran, `first`)
		if !loop.CancelAnimationFrame(second) {
			t.Error(`expected cancel`)
		}
	}); err != nil {
		t.Fatal(err)
	}
	var err error
	if second, err = loop.RequestAnimationFrame(func() { ran = append(ran, `second`) }); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.RequestIdleCallback(func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	startLoop(t, loop)
	waitFor(t, done)
	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ran, []string{`first`}) {
		t.Errorf(`unexpected: %v`, ran)
	}
}

func TestLoop_frameInterval(t *testing.T) {
	const interval = 30 * time.Millisecond
	loop := newLoop(t, WithFrameInterval(interval))
	startLoop(t, loop)

	var (
		times []time.Time
		done  = make(chan struct{})
		frame func()
	)
	frame = func() {
		times = append(times, time.Now())
		if len(times) == 2 {
			close(done)
			return
		}
		if _, err := loop.RequestAnimationFrame(frame); err != nil {
			t.Error(err)
		}
	}
	if _, err := loop.RequestAnimationFrame(frame); err != nil {
		t.Fatal(err)
	}
	waitFor(t, done)
	if d := times[1].Sub(times[0]); d < interval-time.Millisecond {
		t.Errorf(`frames too close: %s`, d)
	}
}

func TestLoop_panicRecovery(t *testing.T) {
	errs := make(chan error, 1)
	loop := newLoop(t, WithErrorHandler(func(err error) { errs <- err }))
	startLoop(t, loop)

	if err := loop.Submit(func() { panic(`boom`) }); err != nil {
		t.Fatal(err)
	}
	var panicErr *scheduler.PanicError
	if err := <-errs; !errors.As(err, &panicErr) || panicErr.Value != `boom` {
		t.Fatalf(`unexpected error: %v`, err)
	}

	done := make(chan struct{})
	if err := loop.Submit(func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, done)
}

func TestLoop_Shutdown_drains(t *testing.T) {
	loop := newLoop(t)
	block := make(chan struct{})
	var count atomic.Int32
	if err := loop.Submit(func() { <-block }); err != nil {
		t.Fatal(err)
	}
	errCh := startLoop(t, loop)
	for range 10 {
		if err := loop.Submit(func() {
			count.Add(1)
			_ = loop.ScheduleMicrotask(func() { count.Add(1) })
		}); err != nil {
			t.Fatal(err)
		}
	}

	shutdown := make(chan error, 1)
	go func() { shutdown <- loop.Shutdown(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	close(block)

	if err := <-shutdown; err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if v := count.Load(); v != 20 {
		t.Errorf(`expected all work drained: %d`, v)
	}
	if err := loop.Submit(func() {}); !errors.Is(err, ErrLoopTerminated) {
		t.Errorf(`unexpected error: %v`, err)
	}
	if _, err := loop.ScheduleTimer(0, func() {}); !errors.Is(err, ErrLoopTerminated) {
		t.Errorf(`unexpected error: %v`, err)
	}
}

func TestLoop_Shutdown_notStarted(t *testing.T) {
	loop := newLoop(t)
	if err := loop.Submit(func() { t.Error(`should not run`) }); err != nil {
		t.Fatal(err)
	}
	if err := loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if state := loop.State(); state != StateTerminated {
		t.Errorf(`unexpected state: %s`, state)
	}
	select {
	case <-loop.Done():
	default:
		t.Error(`expected done`)
	}
}

func TestLoop_Close_discards(t *testing.T) {
	loop := newLoop(t)
	block := make(chan struct{})
	if err := loop.Submit(func() { <-block }); err != nil {
		t.Fatal(err)
	}
	var ran atomic.Bool
	if err := loop.Submit(func() { ran.Store(true) }); err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	if err := loop.Close(); err != nil {
		t.Fatal(err)
	}
	close(block)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if ran.Load() {
		t.Error(`expected queued work to be discarded`)
	}
}

func TestLoop_Run_contextCanceled(t *testing.T) {
	loop := newLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if state := loop.State(); state != StateTerminated {
		t.Errorf(`unexpected state: %s`, state)
	}
}

func TestLoop_nilCallback(t *testing.T) {
	loop := newLoop(t)
	if err := loop.Submit(nil); !errors.Is(err, ErrNilCallback) {
		t.Error(err)
	}
	if err := loop.ScheduleMicrotask(nil); !errors.Is(err, ErrNilCallback) {
		t.Error(err)
	}
	if _, err := loop.ScheduleTimer(0, nil); !errors.Is(err, ErrNilCallback) {
		t.Error(err)
	}
	if _, err := loop.RequestAnimationFrame(nil); !errors.Is(err, ErrNilCallback) {
		t.Error(err)
	}
	if _, err := loop.RequestIdleCallback(nil); !errors.Is(err, ErrNilCallback) {
		t.Error(err)
	}
}

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateAwake:       `Awake`,
		StateRunning:     `Running`,
		StateSleeping:    `Sleeping`,
		StateTerminating: `Terminating`,
		StateTerminated:  `Terminated`,
		LoopState(99):    `Unknown`,
	} {
		if got := state.String(); got != want {
			t.Errorf(`%d: got %q, want %q`, state, got, want)
		}
	}
}
