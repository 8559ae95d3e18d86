package relay

import "errors"

// Relay errors.
var (
	ErrClosed        = errors.New("relay closed")
	ErrInvalidSample = errors.New("sample out of range")
	ErrRejected      = errors.New("backend rejected envelope")
)
