package acquisition

import (
	"context"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// SessionState is reported by the sensor through SessionSink.
type SessionState int

// Session states.
const (
	SessionStarting SessionState = iota
	SessionRunning
	SessionEnded
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionRunning:
		return "running"
	case SessionEnded:
		return "ended"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionSink receives sensor callbacks. The Machine implements it.
type SessionSink interface {
	OnSampleReceived(bpm int, at time.Time)
	OnSessionStateChanged(state SessionState, err error)
}

// Session is a running sensor acquisition session.
type Session interface {
	End()
}

// Sensor is the platform heart rate sensor.
type Sensor interface {
	// Available reports whether the platform exposes a usable sensor.
	Available() bool
	// StartSession begins acquisition and delivers callbacks to sink until the session ends.
	// It may call sink before returning.
	StartSession(ctx context.Context, sink SessionSink) (Session, error)
}

// Relay hands samples to the best-effort transport. Both calls must return without waiting
// on the network; an error means the hand-off itself failed.
type Relay interface {
	Send(sample model.HeartbeatSample) error
	SendCleared(ownerID string, at time.Time) error
}
