package model

import "time"

// StatusDisconnected marks a record whose sensor stopped reporting.
const StatusDisconnected = "disconnected"

// LiveRecord is the per-owner live heart rate document.
type LiveRecord struct {
	OwnerID      string           `json:"ownerId"`
	LatestSample *HeartbeatSample `json:"latestSample,omitempty"`
	// Valid is false for clear writes and out of range readings.
	Valid  bool   `json:"isValidReading"`
	Status string `json:"status,omitempty"`
	// LastNotificationSentAt is the cooldown anchor owned by the dispatcher.
	LastNotificationSentAt *time.Time `json:"lastNotificationSentAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so snapshots never alias store state.
func (r *LiveRecord) Clone() *LiveRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LatestSample != nil {
		s := *r.LatestSample
		c.LatestSample = &s
	}
	if r.LastNotificationSentAt != nil {
		t := *r.LastNotificationSentAt
		c.LastNotificationSentAt = &t
	}
	return &c
}

// BPM returns the latest sample's value or 0 when there is none.
func (r *LiveRecord) BPM() int {
	if r == nil || r.LatestSample == nil {
		return 0
	}
	return r.LatestSample.BPM
}

// LastSeen is the capture time of the latest sample, falling back to UpdatedAt.
func (r *LiveRecord) LastSeen() time.Time {
	if r.LatestSample != nil && !r.LatestSample.CapturedAt.IsZero() {
		return r.LatestSample.CapturedAt
	}
	return r.UpdatedAt
}

// ChangeEvent carries before/after snapshots of a single store mutation.
// Before is nil on create, After is nil on delete.
type ChangeEvent struct {
	OwnerID string
	Before  *LiveRecord
	After   *LiveRecord
	At      time.Time
}

// NotificationRecord is the audit entry written after a dispatch that reached at least one device.
type NotificationRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	BPM       int       `json:"bpm"`
	SentAt    time.Time `json:"sentAt"`
	Tokens    int       `json:"tokens"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}
