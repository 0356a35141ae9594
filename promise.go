package scheduler

import (
	"context"
	"sync"
)

// PromiseState represents the lifecycle state of a [Promise].
// State transitions are irreversible.
type PromiseState int

const (
	// PromisePending indicates the promise has not yet settled.
	PromisePending PromiseState = iota
	// PromiseFulfilled indicates the promise settled with a value.
	PromiseFulfilled
	// PromiseRejected indicates the promise settled with an error.
	PromiseRejected
)

type (
	// Thenable models a deferred result, that a task callback may return as
	// its value, to indicate that it is asynchronous. Exactly one of the
	// provided functions must eventually be called, at most once. Either may
	// be called synchronously, from within Then.
	Thenable interface {
		Then(onFulfilled func(value any), onRejected func(err error))
	}

	// ResolveFunc fulfills a [Promise]. Calls after the first settlement are
	// ignored.
	ResolveFunc func(value any)

	// RejectFunc rejects a [Promise]. Calls after the first settlement are
	// ignored.
	RejectFunc func(err error)

	// Promise is a one-shot, concurrency safe completion primitive, used to
	// deliver task results and yield notifications. The zero value is not
	// usable; see [NewPromise].
	Promise struct {
		value    any
		err      error
		done     chan struct{}
		handlers []promiseHandler
		state    PromiseState
		mu       sync.Mutex
	}

	promiseHandler struct {
		onFulfilled func(value any)
		onRejected  func(err error)
	}
)

var (
	// compile time assertions

	_ Thenable = (*Promise)(nil)
)

// NewPromise returns a pending promise, along with the functions that
// settle it.
func NewPromise() (*Promise, ResolveFunc, RejectFunc) {
	p := &Promise{done: make(chan struct{})}
	return p, p.resolve, p.reject
}

// Resolved returns a promise already fulfilled with value.
func Resolved(value any) *Promise {
	p, resolve, _ := NewPromise()
	resolve(value)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected(err error) *Promise {
	p, _, reject := NewPromise()
	reject(err)
	return p
}

// State returns the current state.
func (p *Promise) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil if not fulfilled.
func (p *Promise) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Err returns the rejection reason, or nil if not rejected.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done returns a channel that is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the promise settles or ctx is done.
//
// WARNING: Calling Wait from the goroutine that is expected to flush the
// scheduler will deadlock, use [Promise.Then] instead.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Then registers continuations, implementing [Thenable]. If the promise has
// already settled, the relevant continuation is called immediately, on the
// calling goroutine. Otherwise, it is called on the goroutine that settles
// the promise. Either argument may be nil.
func (p *Promise) Then(onFulfilled func(value any), onRejected func(err error)) {
	p.mu.Lock()
	if p.state == PromisePending {
		p.handlers = append(p.handlers, promiseHandler{onFulfilled: onFulfilled, onRejected: onRejected})
		p.mu.Unlock()
		return
	}
	h := promiseHandler{onFulfilled: onFulfilled, onRejected: onRejected}
	state, value, err := p.state, p.value, p.err
	p.mu.Unlock()
	h.call(state, value, err)
}

func (p *Promise) resolve(value any) {
	p.settle(PromiseFulfilled, value, nil)
}

func (p *Promise) reject(err error) {
	p.settle(PromiseRejected, nil, err)
}

func (p *Promise) settle(state PromiseState, value any, err error) {
	p.mu.Lock()
	if p.state != PromisePending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.value = value
	p.err = err
	handlers := p.handlers
	p.handlers = nil
	close(p.done)
	p.mu.Unlock()

	for _, h := range handlers {
		h.call(state, value, err)
	}
}

func (x promiseHandler) call(state PromiseState, value any, err error) {
	switch state {
	case PromiseFulfilled:
		if x.onFulfilled != nil {
			x.onFulfilled(value)
		}
	case PromiseRejected:
		if x.onRejected != nil {
			x.onRejected(err)
		}
	}
}

// resolvedNil is shared by every yield on an empty queue.
var resolvedNil = Resolved(nil)
