package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/schedulertest"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestExporter_ObserveTask(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	s, _, host, err := schedulertest.NewScheduler(scheduler.WithObserver(exporter))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueueMacrotask(func(time.Duration) (any, error) { return nil, nil }, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueueMacrotask(func(time.Duration) (any, error) { panic("boom") }, nil); err != nil {
		t.Fatal(err)
	}
	var panicErr *scheduler.PanicError
	if err := host.Flush(scheduler.PriorityMacrotask); !errors.As(err, &panicErr) {
		t.Fatalf("flush error = %v, want panic", err)
	}

	for kind, want := range map[string]float64{
		"queued":    2,
		"started":   2,
		"completed": 1,
		"failed":    1,
	} {
		if got := testutil.ToFloat64(exporter.taskEventsTotal.WithLabelValues("macrotask", kind)); got != want {
			t.Errorf("%s events = %v, want %v", kind, got, want)
		}
	}
	if got := testutil.ToFloat64(exporter.taskFailuresTotal.WithLabelValues("macrotask", "panic")); got != 1 {
		t.Errorf("panic failures = %v, want 1", got)
	}
	if got := histogramSampleCount(t, exporter.taskRunSeconds.WithLabelValues("macrotask", "false")); got != 2 {
		t.Errorf("run duration samples = %d, want 2", got)
	}
	if got := histogramSampleCount(t, exporter.taskElapsedSeconds.WithLabelValues("macrotask")); got != 2 {
		t.Errorf("start latency samples = %d, want 2", got)
	}
}

func TestExporter_canceledPending(t *testing.T) {
	exporter, err := NewExporter("test", prom.NewRegistry(), ExporterOptions{DurationBuckets: []float64{0.1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	exporter.ObserveTask(scheduler.TaskEvent{Kind: scheduler.TaskEventCanceled, Priority: scheduler.PriorityIdle, Status: scheduler.TaskCanceled})
	if got := testutil.ToFloat64(exporter.taskEventsTotal.WithLabelValues("idle", "canceled")); got != 1 {
		t.Errorf("canceled events = %v, want 1", got)
	}
	if got := histogramSampleCount(t, exporter.taskRunSeconds.WithLabelValues("idle", "false")); got != 0 {
		t.Errorf("run duration samples = %d, want 0", got)
	}
	(*Exporter)(nil).ObserveTask(scheduler.TaskEvent{})
}

func TestExporter_alreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("scheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewExporter failed: %v", err)
	}
	second, err := NewExporter("scheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewExporter failed: %v", err)
	}

	event := scheduler.TaskEvent{Kind: scheduler.TaskEventFailed, Priority: scheduler.PriorityRender, Err: errors.New("x")}
	first.ObserveTask(event)
	second.ObserveTask(event)

	if got := testutil.ToFloat64(first.taskFailuresTotal.WithLabelValues("render", "error")); got != 2 {
		t.Fatalf("shared failure counter = %v, want 2", got)
	}
}

func TestQueueCollector(t *testing.T) {
	s, _, host, err := schedulertest.NewScheduler()
	if err != nil {
		t.Fatal(err)
	}
	noop := func(time.Duration) (any, error) { return nil, nil }
	for range 2 {
		if _, err := s.QueueMacrotask(noop, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := host.Flush(scheduler.PriorityMacrotask); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := s.QueueIdleTask(noop, &scheduler.QueueTaskOptions{Delay: time.Second}); err != nil {
			t.Fatal(err)
		}
	}

	collector := NewQueueCollector("", s)
	reg := prom.NewRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(collector); n != 5*10 {
		t.Errorf("metric count = %d, want 50", n)
	}

	const expected = `
# HELP scheduler_queue_queued_total Total number of tasks queued.
# TYPE scheduler_queue_queued_total counter
scheduler_queue_queued_total{priority="idle"} 3
scheduler_queue_queued_total{priority="macrotask"} 2
scheduler_queue_queued_total{priority="microtask"} 0
scheduler_queue_queued_total{priority="postRender"} 0
scheduler_queue_queued_total{priority="render"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "scheduler_queue_queued_total"); err != nil {
		t.Error(err)
	}

	const expectedDelayed = `
# HELP scheduler_queue_tasks Current number of tasks, by list.
# TYPE scheduler_queue_tasks gauge
scheduler_queue_tasks{list="delayed",priority="idle"} 3
scheduler_queue_tasks{list="delayed",priority="macrotask"} 0
scheduler_queue_tasks{list="delayed",priority="microtask"} 0
scheduler_queue_tasks{list="delayed",priority="postRender"} 0
scheduler_queue_tasks{list="delayed",priority="render"} 0
scheduler_queue_tasks{list="inflight",priority="idle"} 0
scheduler_queue_tasks{list="inflight",priority="macrotask"} 0
scheduler_queue_tasks{list="inflight",priority="microtask"} 0
scheduler_queue_tasks{list="inflight",priority="postRender"} 0
scheduler_queue_tasks{list="inflight",priority="render"} 0
scheduler_queue_tasks{list="pending",priority="idle"} 0
scheduler_queue_tasks{list="pending",priority="macrotask"} 0
scheduler_queue_tasks{list="pending",priority="microtask"} 0
scheduler_queue_tasks{list="pending",priority="postRender"} 0
scheduler_queue_tasks{list="pending",priority="render"} 0
scheduler_queue_tasks{list="processing",priority="idle"} 0
scheduler_queue_tasks{list="processing",priority="macrotask"} 0
scheduler_queue_tasks{list="processing",priority="microtask"} 0
scheduler_queue_tasks{list="processing",priority="postRender"} 0
scheduler_queue_tasks{list="processing",priority="render"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expectedDelayed), "scheduler_queue_tasks"); err != nil {
		t.Error(err)
	}
}

func histogramSampleCount(t *testing.T, observer prom.Observer) uint64 {
	t.Helper()
	metric, ok := observer.(prom.Metric)
	if !ok {
		t.Fatalf("%T is not a metric", observer)
	}
	msg := &dto.Metric{}
	if err := metric.Write(msg); err != nil {
		t.Fatal(err)
	}
	return msg.GetHistogram().GetSampleCount()
}
