package trace

import (
	"context"
	"io"
	"sync"
)

type (
	// Sink persists batches of records. Implementations must be safe for
	// concurrent use.
	Sink interface {
		WriteRecords(ctx context.Context, records []Record) error
	}

	// JSONLinesSink writes one JSON object per line, with a single Write
	// call per batch.
	JSONLinesSink struct {
		w   io.Writer
		buf []byte
		mu  sync.Mutex
	}
)

var (
	// compile time assertions

	_ Sink = (*JSONLinesSink)(nil)
	_ Sink = (*SQLiteSink)(nil)
)

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

func (x *JSONLinesSink) WriteRecords(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	b := x.buf[:0]
	for i := range records {
		b = records[i].AppendJSON(b)
		b = append(b, '\n')
	}
	x.buf = b
	_, err := x.w.Write(b)
	return err
}
