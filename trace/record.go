package trace

import (
	"strconv"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// Record is the persisted form of a [scheduler.TaskEvent].
type Record struct {
	Time        time.Time
	RunID       string
	Kind        string
	Priority    string
	Status      string
	Err         string
	Delay       time.Duration
	Elapsed     time.Duration
	RunDuration time.Duration
	TaskID      uint64
	Preempt     bool
	Persistent  bool
	Reusable    bool
	Async       bool
}

// NewRecord converts event, tagging it with runID.
func NewRecord(runID string, event scheduler.TaskEvent) Record {
	r := Record{
		Time:        event.Time,
		RunID:       runID,
		Kind:        event.Kind.String(),
		Priority:    event.Priority.String(),
		Status:      event.Status.String(),
		Delay:       event.Delay,
		Elapsed:     event.Elapsed,
		RunDuration: event.RunDuration,
		TaskID:      event.TaskID,
		Preempt:     event.Preempt,
		Persistent:  event.Persistent,
		Reusable:    event.Reusable,
		Async:       event.Async,
	}
	if event.Err != nil {
		r.Err = event.Err.Error()
	}
	return r
}

// AppendJSON appends r as a single line JSON object, without a trailing
// newline. Durations are encoded as fractional milliseconds, and uint64s as
// strings, which is consistent with the JSON logs.
func (r *Record) AppendJSON(b []byte) []byte {
	b = append(b, `{"time":`...)
	b = jsonenc.AppendString(b, r.Time.Format(time.RFC3339Nano))
	b = append(b, `,"run":`...)
	b = jsonenc.AppendString(b, r.RunID)
	b = append(b, `,"task":"`...)
	b = strconv.AppendUint(b, r.TaskID, 10)
	b = append(b, `","kind":`...)
	b = jsonenc.AppendString(b, r.Kind)
	b = append(b, `,"priority":`...)
	b = jsonenc.AppendString(b, r.Priority)
	b = append(b, `,"status":`...)
	b = jsonenc.AppendString(b, r.Status)
	if r.Err != `` {
		b = append(b, `,"err":`...)
		b = jsonenc.AppendString(b, r.Err)
	}
	b = append(b, `,"delay_ms":`...)
	b = jsonenc.AppendFloat64(b, millis(r.Delay))
	b = append(b, `,"elapsed_ms":`...)
	b = jsonenc.AppendFloat64(b, millis(r.Elapsed))
	b = append(b, `,"run_ms":`...)
	b = jsonenc.AppendFloat64(b, millis(r.RunDuration))
	b = appendFlag(b, `preempt`, r.Preempt)
	b = appendFlag(b, `persistent`, r.Persistent)
	b = appendFlag(b, `reusable`, r.Reusable)
	b = appendFlag(b, `async`, r.Async)
	return append(b, '}')
}

// appendFlag appends the key only if val is true.
func appendFlag(b []byte, key string, val bool) []byte {
	if !val {
		return b
	}
	b = append(b, ',')
	b = jsonenc.AppendString(b, key)
	return append(b, `:true`...)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
