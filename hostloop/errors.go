package hostloop

import (
	"errors"
)

var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is
	// already running.
	ErrLoopAlreadyRunning = errors.New(`hostloop: loop is already running`)

	// ErrLoopTerminated is returned when operations are attempted on a
	// terminated loop.
	ErrLoopTerminated = errors.New(`hostloop: loop has been terminated`)

	// ErrNilCallback is returned when a nil callback is provided.
	ErrNilCallback = errors.New(`hostloop: nil callback`)
)
