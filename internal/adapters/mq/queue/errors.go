package queue

import "errors"

// Sentinel kinds for rejected events.
var (
	ErrFull   = errors.New("event queue full")
	ErrClosed = errors.New("event queue closed")
)
