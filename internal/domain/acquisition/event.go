package acquisition

import "time"

// State of the acquisition machine.
type State int

// States. The cycle is Idle, Starting, Monitoring, Stopping, Idle.
const (
	StateIdle State = iota
	StateStarting
	StateMonitoring
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateMonitoring:
		return "monitoring"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Detection statuses shown to the wearer.
const (
	DetectionReading   = "reading"
	DetectionNoReading = "no reading"
)

// EventKind names an observable output.
type EventKind string

// Event kinds.
const (
	EventValue   EventKind = "value"
	EventBeat    EventKind = "beat"
	EventCleared EventKind = "cleared"
	EventInvalid EventKind = "invalid"
	EventState   EventKind = "state"
)

// Event is published to subscribers.
type Event struct {
	Kind  EventKind
	BPM   int
	State State
	At    time.Time
}

// Status is a point-in-time snapshot of the machine.
type Status struct {
	State            State
	CurrentValue     int
	LastUpdateAt     time.Time
	DetectionStatus  string
	ConsecutiveSkips int
}
