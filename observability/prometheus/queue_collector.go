package prometheus

import (
	"github.com/joeycumines/go-scheduler"
	prom "github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by *scheduler.Scheduler.
type StatsSource interface {
	Stats() []scheduler.QueueStats
}

// QueueCollector reads queue statistics on every scrape.
type QueueCollector struct {
	source     StatsSource
	tasks      *prom.Desc
	pooled     *prom.Desc
	queued     *prom.Desc
	flushes    *prom.Desc
	unhandled  *prom.Desc
	suppressed *prom.Desc
	requested  *prom.Desc
}

var _ prom.Collector = (*QueueCollector)(nil)

// NewQueueCollector returns a collector for source, which must be
// registered separately.
func NewQueueCollector(namespace string, source StatsSource) *QueueCollector {
	if namespace == "" {
		namespace = "scheduler"
	}
	desc := func(name, help string, labels ...string) *prom.Desc {
		return prom.NewDesc(prom.BuildFQName(namespace, "queue", name), help, append([]string{"priority"}, labels...), nil)
	}
	return &QueueCollector{
		source:     source,
		tasks:      desc("tasks", "Current number of tasks, by list.", "list"),
		pooled:     desc("pooled_tasks", "Current number of pooled tasks."),
		queued:     desc("queued_total", "Total number of tasks queued."),
		flushes:    desc("flushes_total", "Total number of flushes."),
		unhandled:  desc("unhandled_errors_total", "Total number of asynchronous errors without a result consumer."),
		suppressed: desc("suppressed_logs_total", "Total number of unhandled errors not logged due to rate limits."),
		requested:  desc("flush_requested", "Whether a flush is currently requested."),
	}
}

func (x *QueueCollector) Describe(ch chan<- *prom.Desc) {
	ch <- x.tasks
	ch <- x.pooled
	ch <- x.queued
	ch <- x.flushes
	ch <- x.unhandled
	ch <- x.suppressed
	ch <- x.requested
}

func (x *QueueCollector) Collect(ch chan<- prom.Metric) {
	for _, stats := range x.source.Stats() {
		p := stats.Priority.String()
		for _, list := range [...]struct {
			name  string
			value int
		}{
			{"processing", stats.Processing},
			{"pending", stats.Pending},
			{"delayed", stats.Delayed},
			{"inflight", stats.InFlight},
		} {
			ch <- prom.MustNewConstMetric(x.tasks, prom.GaugeValue, float64(list.value), p, list.name)
		}
		ch <- prom.MustNewConstMetric(x.pooled, prom.GaugeValue, float64(stats.Pooled), p)
		ch <- prom.MustNewConstMetric(x.queued, prom.CounterValue, float64(stats.Queued), p)
		ch <- prom.MustNewConstMetric(x.flushes, prom.CounterValue, float64(stats.Flushes), p)
		ch <- prom.MustNewConstMetric(x.unhandled, prom.CounterValue, float64(stats.Unhandled), p)
		ch <- prom.MustNewConstMetric(x.suppressed, prom.CounterValue, float64(stats.SuppressedLogs), p)
		var requested float64
		if stats.FlushRequested {
			requested = 1
		}
		ch <- prom.MustNewConstMetric(x.requested, prom.GaugeValue, requested, p)
	}
}
