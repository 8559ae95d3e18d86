package acquisition

import "errors"

// Session-fatal errors. Both require an explicit Start to retry.
var (
	ErrSensorUnavailable = errors.New("heart rate sensor unavailable")
	ErrPermissionDenied  = errors.New("heart rate sensor permission denied")
)

// ErrAlreadyStarted is returned by Start outside Idle.
var ErrAlreadyStarted = errors.New("acquisition already started")
