// Package model contains domain models passed between layers.
package model

import "time"

// Valid heart rate range. MinBPM is exclusive, MaxBPM inclusive.
const (
	MinBPM = 0
	MaxBPM = 220
)

// HeartbeatSample is a single beats-per-minute reading taken by the wearable sensor.
type HeartbeatSample struct {
	BPM        int       `json:"bpm"`
	CapturedAt time.Time `json:"capturedAt"`
	OwnerID    string    `json:"ownerId"`
}

// ValidBPM reports whether bpm is a plausible heart rate.
func ValidBPM(bpm int) bool {
	return bpm > MinBPM && bpm <= MaxBPM
}

// Valid reports whether the sample carries a plausible heart rate.
func (s HeartbeatSample) Valid() bool {
	return ValidBPM(s.BPM)
}
