// Package trace records scheduler task events, for offline analysis.
//
// A [Recorder] is registered using scheduler.WithObserver. It converts each
// event into a [Record], groups records using a [Batcher], and hands each
// batch to a [Sink]: either [JSONLinesSink], or [SQLiteSink].
package trace
