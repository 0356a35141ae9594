// Package prometheus exports scheduler task events and queue statistics as
// Prometheus metrics.
package prometheus

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-scheduler"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// DurationBuckets are used by the run duration histogram, defaulting to
	// prometheus.DefBuckets.
	DurationBuckets []float64
}

// Exporter is a scheduler.Observer, that maintains counters and histograms
// of task events.
type Exporter struct {
	taskEventsTotal    *prom.CounterVec
	taskFailuresTotal  *prom.CounterVec
	taskRunSeconds     *prom.HistogramVec
	taskElapsedSeconds *prom.HistogramVec
}

var _ scheduler.Observer = (*Exporter)(nil)

// NewExporter creates and registers collectors for task events. Collectors
// that are already registered with reg are reused.
func NewExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if namespace == "" {
		namespace = "scheduler"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	eventsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_events_total",
		Help:      "Total number of task lifecycle events.",
	}, []string{"priority", "kind"})
	failuresVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_failures_total",
		Help:      "Total number of failed task runs.",
	}, []string{"priority", "reason"})
	runVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_run_duration_seconds",
		Help:      "Task run duration in seconds, until settlement for asynchronous tasks.",
		Buckets:   buckets,
	}, []string{"priority", "async"})
	elapsedVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_start_latency_seconds",
		Help:      "Time between a task being queued (or re-armed) and starting, in seconds.",
		Buckets:   buckets,
	}, []string{"priority"})

	var err error
	if eventsVec, err = registerCollector(reg, eventsVec); err != nil {
		return nil, err
	}
	if failuresVec, err = registerCollector(reg, failuresVec); err != nil {
		return nil, err
	}
	if runVec, err = registerCollector(reg, runVec); err != nil {
		return nil, err
	}
	if elapsedVec, err = registerCollector(reg, elapsedVec); err != nil {
		return nil, err
	}

	return &Exporter{
		taskEventsTotal:    eventsVec,
		taskFailuresTotal:  failuresVec,
		taskRunSeconds:     runVec,
		taskElapsedSeconds: elapsedVec,
	}, nil
}

func (m *Exporter) ObserveTask(event scheduler.TaskEvent) {
	if m == nil {
		return
	}
	priority := event.Priority.String()
	m.taskEventsTotal.WithLabelValues(priority, event.Kind.String()).Inc()
	switch event.Kind {
	case scheduler.TaskEventStarted:
		m.taskElapsedSeconds.WithLabelValues(priority).Observe(event.Elapsed.Seconds())
	case scheduler.TaskEventCompleted, scheduler.TaskEventRearmed:
		m.taskRunSeconds.WithLabelValues(priority, asyncLabel(event.Async)).Observe(event.RunDuration.Seconds())
	case scheduler.TaskEventCanceled:
		// only the final run of a deactivated persistent task has a duration
		if event.RunDuration > 0 {
			m.taskRunSeconds.WithLabelValues(priority, asyncLabel(event.Async)).Observe(event.RunDuration.Seconds())
		}
	case scheduler.TaskEventFailed:
		m.taskFailuresTotal.WithLabelValues(priority, failureReason(event.Err)).Inc()
		m.taskRunSeconds.WithLabelValues(priority, asyncLabel(event.Async)).Observe(event.RunDuration.Seconds())
	}
}

func asyncLabel(async bool) string {
	if async {
		return "true"
	}
	return "false"
}

func failureReason(err error) string {
	var panicErr *scheduler.PanicError
	if errors.As(err, &panicErr) {
		return "panic"
	}
	return "error"
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
