package hostloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultFrameInterval is the minimum interval between animation frames,
// approximating a 60Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger                  *logiface.Logger[logiface.Event]
	errorHandler            func(err error)
	frameInterval           time.Duration
	strictMicrotaskOrdering bool
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithStrictMicrotaskOrdering sets whether microtasks should be drained
// after each callback, rather than after each phase of a tick.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	}}
}

// WithFrameInterval sets the minimum interval between animation frames.
func WithFrameInterval(interval time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if interval <= 0 {
			return fmt.Errorf(`hostloop: invalid frame interval: %s`, interval)
		}
		opts.frameInterval = interval
		return nil
	}}
}

// WithLogger configures structured logging, used to report callback panics
// and flush errors, unless WithErrorHandler is set.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithErrorHandler receives callback panics, as [*scheduler.PanicError],
// and errors returned by scheduler flushes. It is called on the loop
// goroutine.
func WithErrorHandler(handler func(err error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.errorHandler = handler
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		frameInterval: DefaultFrameInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
