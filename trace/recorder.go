package trace

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/logiface"
)

type (
	// RecorderConfig models optional configuration, for [NewRecorder].
	RecorderConfig struct {
		// Logger receives sink failures. Optional.
		Logger *logiface.Logger[logiface.Event]

		// Batch configures batching, see [BatcherConfig].
		Batch *BatcherConfig

		// RunID tags every record. Defaults to a random UUID.
		RunID string
	}

	// Recorder is a [scheduler.Observer] that writes every task event to a
	// [Sink], in batches.
	Recorder struct {
		batcher  *Batcher[Record]
		sink     Sink
		logger   *logiface.Logger[logiface.Event]
		runID    string
		recorded atomic.Uint64
		written  atomic.Uint64
		dropped  atomic.Uint64
		failed   atomic.Uint64
	}

	// RecorderStats are cumulative record counts.
	RecorderStats struct {
		// Recorded were accepted for batching.
		Recorded uint64
		// Written were accepted by the sink.
		Written uint64
		// Dropped arrived after the recorder stopped.
		Dropped uint64
		// Failed were in batches the sink rejected.
		Failed uint64
	}
)

var _ scheduler.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to sink. A nil config uses the
// defaults. Either [Recorder.Shutdown] or [Recorder.Close] must be called.
func NewRecorder(sink Sink, config *RecorderConfig) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New(`trace: nil sink`)
	}
	x := &Recorder{sink: sink}
	var batch *BatcherConfig
	if config != nil {
		x.logger = config.Logger
		x.runID = config.RunID
		batch = config.Batch
	}
	if x.runID == `` {
		x.runID = uuid.NewString()
	}
	var err error
	x.batcher, err = NewBatcher[Record](batch, x.write)
	if err != nil {
		return nil, err
	}
	return x, nil
}

// RunID returns the identifier attached to every record.
func (x *Recorder) RunID() string { return x.runID }

// ObserveTask records event, blocking only while the batcher is at its
// concurrency limit. Events after the recorder stops are dropped.
func (x *Recorder) ObserveTask(event scheduler.TaskEvent) {
	if _, err := x.batcher.Submit(context.Background(), NewRecord(x.runID, event)); err != nil {
		x.dropped.Add(1)
		return
	}
	x.recorded.Add(1)
}

func (x *Recorder) write(ctx context.Context, records []Record) error {
	if err := x.sink.WriteRecords(ctx, records); err != nil {
		x.failed.Add(uint64(len(records)))
		x.logger.Err().
			Err(err).
			Int(`records`, len(records)).
			Str(`run`, x.runID).
			Log(`trace: failed to write records`)
		return err
	}
	x.written.Add(uint64(len(records)))
	return nil
}

// Stats returns the cumulative record counts.
func (x *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: x.recorded.Load(),
		Written:  x.written.Load(),
		Dropped:  x.dropped.Load(),
		Failed:   x.failed.Load(),
	}
}

// Shutdown stops recording, and waits for every accepted record to be
// written, see [Batcher.Shutdown]. The sink is not closed.
func (x *Recorder) Shutdown(ctx context.Context) error {
	return x.batcher.Shutdown(ctx)
}

// Close stops recording immediately, abandoning unwritten records.
func (x *Recorder) Close() error {
	return x.batcher.Close()
}
