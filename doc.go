// Package scheduler implements a multi-priority cooperative task scheduler.
//
// A [Scheduler] owns five [TaskQueue] instances, one per [Priority]. Work is
// queued as a [TaskFunc], wrapped in a [Task], and executed when the host
// environment calls [TaskQueue.Flush], in response to a request made through
// the queue's [FlushRequestor]. The scheduler never blocks, and never spawns
// goroutines of its own: the host decides when, and on which goroutine, each
// queue is flushed. See the hostloop package for a goroutine-driven host, and
// the schedulertest package for a deterministic one.
//
// # Ordering
//
// Within a queue, tasks are processed in FIFO order. Tasks queued with
// [QueueTaskOptions.Preempt] are placed ahead of any pending work, and
// delayed tasks become eligible only once due, in due-time order. There is no
// ordering across queues, other than that imposed by [Scheduler.YieldAll].
//
// # Persistent and reusable tasks
//
// A persistent task is re-armed after every successful run, preserving its
// delay, until canceled. A reusable task is returned to its queue's pool once
// it completes, and handed out again by a later [TaskQueue.QueueTask] call
// that also sets [QueueTaskOptions.Reusable]. Callers must not retain
// references to reusable tasks past completion.
//
// # Asynchronous tasks
//
// A callback may return a [Thenable] (e.g. a [*Promise]) as its value. The
// flush does not wait for it; the task settles, or is re-armed, once the
// thenable settles, on whatever goroutine settles it.
//
// # Concurrency
//
// Every method is safe for concurrent use. Callbacks, promise continuations,
// and observers are always invoked without any queue lock held, and may call
// back into the scheduler.
package scheduler
