package model

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeTypeHeartRate is the only envelope type on the relay channel.
const EnvelopeTypeHeartRate = "heartRate"

// Envelope is the relay wire message between the wearable and the backend.
type Envelope struct {
	Type           string `json:"type"`
	MessageID      string `json:"messageId"`
	OwnerID        string `json:"ownerId"`
	BPM            int    `json:"bpm"`
	TimestampMs    int64  `json:"timestampMs"`
	IsValidReading bool   `json:"isValidReading"`
	Status         string `json:"status,omitempty"`
}

// NewValueEnvelope wraps a valid sample.
func NewValueEnvelope(s HeartbeatSample) Envelope {
	return Envelope{
		Type:           EnvelopeTypeHeartRate,
		MessageID:      uuid.NewString(),
		OwnerID:        s.OwnerID,
		BPM:            s.BPM,
		TimestampMs:    s.CapturedAt.UnixMilli(),
		IsValidReading: true,
	}
}

// NewClearedEnvelope tells the backend the sensor stopped reporting.
func NewClearedEnvelope(ownerID string, at time.Time) Envelope {
	return Envelope{
		Type:           EnvelopeTypeHeartRate,
		MessageID:      uuid.NewString(),
		OwnerID:        ownerID,
		TimestampMs:    at.UnixMilli(),
		IsValidReading: false,
		Status:         StatusDisconnected,
	}
}

// Sample converts the envelope back to a sample.
func (e Envelope) Sample() HeartbeatSample {
	return HeartbeatSample{
		BPM:        e.BPM,
		CapturedAt: time.UnixMilli(e.TimestampMs),
		OwnerID:    e.OwnerID,
	}
}

// Cleared reports whether this is a disconnect marker rather than a reading.
func (e Envelope) Cleared() bool {
	return !e.IsValidReading && e.Status == StatusDisconnected
}
