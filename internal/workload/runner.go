package workload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrSimulatedFailure is the error returned by tasks with fail set.
var ErrSimulatedFailure = errors.New(`workload: simulated failure`)

type (
	// Runner enqueues a workload's tasks, and counts their runs.
	Runner struct {
		scheduler *scheduler.Scheduler
		workload  *Workload
		logger    *logiface.Logger[logiface.Event]
		counters  []*taskCounters
	}

	taskCounters struct {
		enqueued atomic.Uint64
		runs     atomic.Uint64
		failures atomic.Uint64
		canceled atomic.Uint64
	}

	// TaskSummary are the counts for a single [TaskSpec].
	TaskSummary struct {
		Name     string
		Priority string
		Enqueued uint64
		Runs     uint64
		Failures uint64
		Canceled uint64
	}
)

// NewRunner prepares w for running against s. The logger is optional.
func NewRunner(s *scheduler.Scheduler, w *Workload, logger *logiface.Logger[logiface.Event]) *Runner {
	x := &Runner{
		scheduler: s,
		workload:  w,
		logger:    logger,
		counters:  make([]*taskCounters, len(w.Tasks)),
	}
	for i := range x.counters {
		x.counters[i] = new(taskCounters)
	}
	return x
}

// Produce enqueues every task, running one producer per spec, and waits for
// any cancel_after timers. The first enqueue failure cancels the rest.
func (x *Runner) Produce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range x.workload.Tasks {
		g.Go(func() error { return x.produce(ctx, i) })
	}
	return g.Wait()
}

func (x *Runner) produce(ctx context.Context, i int) error {
	spec := &x.workload.Tasks[i]
	counters := x.counters[i]

	priority, err := scheduler.ParsePriority(spec.Priority)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if spec.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(spec.Rate), 1)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	callback := x.callback(spec, counters)

	for n := range spec.Count() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		task, err := x.scheduler.QueueTask(priority, callback, spec.Options(spec.untilCron(x.scheduler.Now())))
		if err != nil {
			return fmt.Errorf(`workload: task %s: %w`, spec.Name, err)
		}
		counters.enqueued.Add(1)

		x.logger.Trace().
			Str(`task`, spec.Name).
			Int(`n`, n).
			Uint64(`id`, task.ID()).
			Log(`workload: enqueued`)

		if spec.Persistent && spec.CancelAfter > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := time.NewTimer(spec.CancelAfter)
				defer timer.Stop()
				select {
				case <-ctx.Done():
				case <-timer.C:
				}
				// canceled regardless, so the run can quiesce
				if task.Cancel() {
					counters.canceled.Add(1)
				}
			}()
		}
	}

	return nil
}

func (x *Runner) callback(spec *TaskSpec, counters *taskCounters) scheduler.TaskFunc {
	if spec.Async {
		return func(time.Duration) (any, error) {
			counters.runs.Add(1)
			p, resolve, reject := scheduler.NewPromise()
			time.AfterFunc(spec.Work, func() {
				if spec.Fail {
					counters.failures.Add(1)
					reject(ErrSimulatedFailure)
					return
				}
				resolve(spec.Name)
			})
			return p, nil
		}
	}
	return func(time.Duration) (any, error) {
		counters.runs.Add(1)
		if spec.Work > 0 {
			time.Sleep(spec.Work)
		}
		if spec.Fail {
			counters.failures.Add(1)
			return nil, ErrSimulatedFailure
		}
		return spec.Name, nil
	}
}

// Summary returns the counts of every spec, in workload order.
func (x *Runner) Summary() []TaskSummary {
	out := make([]TaskSummary, len(x.counters))
	for i, c := range x.counters {
		out[i] = TaskSummary{
			Name:     x.workload.Tasks[i].Name,
			Priority: x.workload.Tasks[i].Priority,
			Enqueued: c.enqueued.Load(),
			Runs:     c.runs.Load(),
			Failures: c.failures.Load(),
			Canceled: c.canceled.Load(),
		}
	}
	return out
}
