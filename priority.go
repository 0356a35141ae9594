package scheduler

import (
	"strconv"
)

// Priority identifies one of the five task queues owned by a [Scheduler].
// Lower values are higher priority, though priority only affects when a
// flush is requested, not the order in which work executes.
type Priority int

const (
	// PriorityMicrotask runs as soon as the current unit of host work
	// completes. Microtasks may not be persistent.
	PriorityMicrotask Priority = iota
	// PriorityRender runs before the next frame is rendered.
	PriorityRender
	// PriorityMacrotask runs as a regular unit of host work.
	PriorityMacrotask
	// PriorityPostRender runs after the next frame is rendered.
	PriorityPostRender
	// PriorityIdle runs when the host has nothing else to do.
	PriorityIdle

	numPriorities = int(PriorityIdle) + 1
)

// Priorities returns all valid priorities, in ascending order.
func Priorities() []Priority {
	return []Priority{
		PriorityMicrotask,
		PriorityRender,
		PriorityMacrotask,
		PriorityPostRender,
		PriorityIdle,
	}
}

// Valid reports whether p identifies one of the five queues.
func (p Priority) Valid() bool {
	return p >= PriorityMicrotask && p <= PriorityIdle
}

func (p Priority) String() string {
	switch p {
	case PriorityMicrotask:
		return `microtask`
	case PriorityRender:
		return `render`
	case PriorityMacrotask:
		return `macrotask`
	case PriorityPostRender:
		return `postRender`
	case PriorityIdle:
		return `idle`
	default:
		return `Priority(` + strconv.Itoa(int(p)) + `)`
	}
}

// ParsePriority is the inverse of [Priority.String], also accepting the
// lowercase forms used by configuration files (e.g. "postrender").
func ParsePriority(s string) (Priority, error) {
	switch s {
	case `microtask`, `micro`:
		return PriorityMicrotask, nil
	case `render`:
		return PriorityRender, nil
	case `macrotask`, `macro`:
		return PriorityMacrotask, nil
	case `postRender`, `postrender`, `post-render`:
		return PriorityPostRender, nil
	case `idle`:
		return PriorityIdle, nil
	default:
		return 0, &InvalidPriorityError{Value: s}
	}
}
