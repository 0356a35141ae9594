package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger        *logiface.Logger[logiface.Event]
	errorHandler  func(task *Task, err error)
	errorLimiter  *catrate.Limiter
	observers     []Observer
	poolLimit     int
	metrics       bool
	errorLogRates bool
}

// Option configures a [Scheduler] instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (x *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return x.applySchedulerFunc(opts)
}

// DefaultErrorLogRates are the default rates at which unhandled task errors
// are logged, per priority.
var DefaultErrorLogRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// WithLogger configures structured logging. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithObserver registers an [Observer], which is notified of task lifecycle
// events. May be provided multiple times.
func WithObserver(observer Observer) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if observer == nil {
			return errors.New(`scheduler: nil observer`)
		}
		opts.observers = append(opts.observers, observer)
		return nil
	}}
}

// WithMetrics enables run duration percentiles and throughput tracking,
// exposed via [QueueStats.Run].
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.metrics = enabled
		return nil
	}}
}

// WithPoolLimit bounds the number of retired reusable tasks retained by each
// queue. Zero, the default, means unbounded.
func WithPoolLimit(limit int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if limit < 0 {
			return fmt.Errorf(`scheduler: invalid pool limit: %d`, limit)
		}
		opts.poolLimit = limit
		return nil
	}}
}

// WithErrorHandler sets the handler for errors from asynchronous tasks that
// have no result consumer. The handler replaces the default behavior, which
// is to log the error. It may be called from any goroutine.
func WithErrorHandler(handler func(task *Task, err error)) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.errorHandler = handler
		return nil
	}}
}

// WithErrorLogRates overrides [DefaultErrorLogRates]. An empty map disables
// rate limiting. Rates must be valid, per catrate.NewLimiter.
func WithErrorLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *schedulerOptions) (err error) {
		opts.errorLogRates = true
		if len(rates) == 0 {
			opts.errorLimiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf(`scheduler: invalid error log rates: %v`, r)
			}
		}()
		opts.errorLimiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.errorLogRates {
		cfg.errorLimiter = catrate.NewLimiter(DefaultErrorLogRates)
	}
	return cfg, nil
}
