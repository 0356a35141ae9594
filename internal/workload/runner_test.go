package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/schedulertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Produce(t *testing.T) {
	unhandled := make(chan error, 1)
	s, clock, host, err := schedulertest.NewScheduler(
		scheduler.WithErrorHandler(func(_ *scheduler.Task, err error) { unhandled <- err }),
	)
	require.NoError(t, err)

	w := &Workload{Tasks: []TaskSpec{
		{Name: `frames`, Priority: `render`, Repeat: 3},
		{Name: `nightly`, Priority: `idle`, Cron: `0 3 * * *`},
		{Name: `broken`, Priority: `macrotask`, Async: true, Fail: true},
	}}
	require.NoError(t, w.Validate())

	r := NewRunner(s, w, nil)
	require.NoError(t, r.Produce(context.Background()))

	delay, ok := host.Delay(scheduler.PriorityIdle)
	require.True(t, ok)
	assert.Equal(t, 3*time.Hour, delay)

	_, err = host.Drain(10)
	require.NoError(t, err)

	// the async failure settles on a timer goroutine
	require.Eventually(t, func() bool {
		return r.Summary()[2].Failures == 1
	}, time.Second*5, time.Millisecond)

	clock.Advance(3 * time.Hour)
	_, err = host.Drain(10)
	require.NoError(t, err)

	assert.Equal(t, []TaskSummary{
		{Name: `frames`, Priority: `render`, Enqueued: 3, Runs: 3},
		{Name: `nightly`, Priority: `idle`, Enqueued: 1, Runs: 1},
		{Name: `broken`, Priority: `macrotask`, Enqueued: 1, Runs: 1, Failures: 1},
	}, r.Summary())

	select {
	case err := <-unhandled:
		assert.ErrorIs(t, err, ErrSimulatedFailure)
	case <-time.After(time.Second * 5):
		t.Fatal(`expected unhandled error`)
	}
	assert.Equal(t, uint64(1), s.MacrotaskQueue().Stats().Unhandled)
}

func TestRunner_Produce_syncFailure(t *testing.T) {
	s, _, host, err := schedulertest.NewScheduler()
	require.NoError(t, err)
	r := NewRunner(s, &Workload{Tasks: []TaskSpec{{Name: `x`, Priority: `macrotask`, Fail: true}}}, nil)
	require.NoError(t, r.Produce(context.Background()))
	_, err = host.Drain(10)
	assert.ErrorIs(t, err, ErrSimulatedFailure)
	assert.Equal(t, uint64(1), r.Summary()[0].Failures)
}

func TestRunner_Produce_cancelAfter(t *testing.T) {
	s, _, host, err := schedulertest.NewScheduler()
	require.NoError(t, err)
	r := NewRunner(s, &Workload{Tasks: []TaskSpec{
		{Name: `poll`, Priority: `macrotask`, Persistent: true, CancelAfter: 10 * time.Millisecond},
	}}, nil)

	start := time.Now()
	require.NoError(t, r.Produce(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	_, err = host.Drain(10)
	require.NoError(t, err)
	assert.Equal(t, []TaskSummary{{Name: `poll`, Priority: `macrotask`, Enqueued: 1, Canceled: 1}}, r.Summary())
	assert.Equal(t, uint64(1), s.MacrotaskQueue().Stats().Canceled)
}

func TestRunner_Produce_rate(t *testing.T) {
	s, _, _, err := schedulertest.NewScheduler()
	require.NoError(t, err)
	r := NewRunner(s, &Workload{Tasks: []TaskSpec{
		{Name: `paced`, Priority: `idle`, Repeat: 3, Rate: 50},
	}}, nil)
	start := time.Now()
	require.NoError(t, r.Produce(context.Background()))
	// burst of 1, then 20ms apart
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, uint64(3), r.Summary()[0].Enqueued)
}

func TestRunner_Produce_canceled(t *testing.T) {
	s, _, _, err := schedulertest.NewScheduler()
	require.NoError(t, err)
	r := NewRunner(s, &Workload{Tasks: []TaskSpec{{Name: `a`, Priority: `idle`}}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(r.Produce(ctx), context.Canceled))
	assert.Zero(t, r.Summary()[0].Enqueued)
}
