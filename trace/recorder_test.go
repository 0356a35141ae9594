package trace_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/schedulertest"
	"github.com/joeycumines/go-scheduler/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	err     error
	records []trace.Record
	batches int
	mu      sync.Mutex
}

func (x *memorySink) WriteRecords(_ context.Context, records []trace.Record) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return x.err
	}
	x.batches++
	x.records = append(x.records, records...)
	return nil
}

func TestRecorder(t *testing.T) {
	sink := new(memorySink)
	rec, err := trace.NewRecorder(sink, &trace.RecorderConfig{
		RunID: `run-1`,
		Batch: &trace.BatcherConfig{MaxSize: 4, FlushInterval: time.Hour},
	})
	require.NoError(t, err)
	assert.Equal(t, `run-1`, rec.RunID())

	s, _, host, err := schedulertest.NewScheduler(scheduler.WithObserver(rec))
	require.NoError(t, err)

	_, err = s.QueueMacrotask(func(time.Duration) (any, error) { return nil, nil }, nil)
	require.NoError(t, err)
	_, err = s.QueueMacrotask(func(time.Duration) (any, error) { return nil, errors.New(`boom`) }, nil)
	require.NoError(t, err)
	_, err = host.Drain(10)
	require.Error(t, err)

	require.NoError(t, rec.Shutdown(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	kinds := make([]string, len(sink.records))
	for i, r := range sink.records {
		assert.Equal(t, `run-1`, r.RunID)
		assert.Equal(t, `macrotask`, r.Priority)
		kinds[i] = r.Kind
	}
	assert.Equal(t, []string{`queued`, `queued`, `started`, `completed`, `started`, `failed`}, kinds)
	assert.Equal(t, `boom`, sink.records[5].Err)
	assert.Equal(t, 2, sink.batches)

	stats := rec.Stats()
	assert.Equal(t, trace.RecorderStats{Recorded: 6, Written: 6}, stats)

	// stopped
	rec.ObserveTask(scheduler.TaskEvent{Kind: scheduler.TaskEventQueued})
	assert.Equal(t, uint64(1), rec.Stats().Dropped)
}

func TestRecorder_sinkFailure(t *testing.T) {
	sink := &memorySink{err: errors.New(`unavailable`)}
	rec, err := trace.NewRecorder(sink, &trace.RecorderConfig{
		Batch: &trace.BatcherConfig{MaxSize: 2},
	})
	require.NoError(t, err)
	assert.Len(t, rec.RunID(), 36)

	for range 3 {
		rec.ObserveTask(scheduler.TaskEvent{Kind: scheduler.TaskEventQueued})
	}
	require.NoError(t, rec.Shutdown(context.Background()))
	assert.Equal(t, trace.RecorderStats{Recorded: 3, Failed: 3}, rec.Stats())
}

func TestNewRecorder_nilSink(t *testing.T) {
	rec, err := trace.NewRecorder(nil, nil)
	assert.Nil(t, rec)
	assert.EqualError(t, err, `trace: nil sink`)
}
