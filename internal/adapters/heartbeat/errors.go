package heartbeat

import "errors"

var (
	// ErrNotFound is returned when an owner has no live record.
	ErrNotFound = errors.New("live record not found")
	// ErrEmptyOwnerID is returned for mutations without an owner.
	ErrEmptyOwnerID = errors.New("owner id must not be empty")
)
