// Package hostloop implements a goroutine driven event loop, that hosts a
// [scheduler.Scheduler].
//
// A [Loop] provides the primitives a browser would: macrotasks, microtasks,
// timers, animation frames, and idle callbacks. All callbacks run on the
// goroutine that called [Loop.Run]. Each tick processes, in order:
//
//  1. Due timers.
//  2. Macrotasks, submitted prior to the start of the phase.
//  3. Animation frame callbacks, if a frame is due.
//  4. A single idle callback, if nothing else is runnable.
//
// Microtasks are drained after every callback, if strict ordering is
// enabled, or otherwise after every phase.
//
// [NewFlushRequestorFactory] binds each scheduler priority to one of the
// loop's primitives, and [NewScheduler] wires the two together.
package hostloop
