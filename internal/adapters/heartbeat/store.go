// Package heartbeat holds the per-owner live heart rate records and the notification audit log.
//
// Every committed mutation (write, delete, cooldown timestamp update) is handed to the configured
// Publisher as a ChangeEvent carrying before/after snapshots. That stream is the only trigger
// source for notification dispatch.
package heartbeat

import (
	"context"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Store is the live heartbeat store.
type Store interface {
	// Write upserts the owner's record. valid=false marks the sensor disconnected.
	// The cooldown anchor is preserved across writes.
	Write(ctx context.Context, ownerID string, sample model.HeartbeatSample, valid bool) (*model.LiveRecord, error)
	// Read returns ErrNotFound when the owner has no record.
	Read(ctx context.Context, ownerID string) (*model.LiveRecord, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, ownerID string) error
	// DeleteIfStale removes the record only if its latest sample is strictly older than cutoff,
	// checked atomically with the removal. Reports whether the record was removed.
	DeleteIfStale(ctx context.Context, ownerID string, cutoff time.Time) (bool, error)
	// SetLastNotificationSentAt unconditionally sets the cooldown anchor.
	SetLastNotificationSentAt(ctx context.Context, ownerID string, at time.Time) error
	// CompareAndSetLastNotificationSentAt sets the anchor to next only if it currently equals expected.
	// nil means "absent" on both sides. Returns false when the current value differs.
	CompareAndSetLastNotificationSentAt(ctx context.Context, ownerID string, expected, next *time.Time) (bool, error)
	// List returns a snapshot of all live records.
	List(ctx context.Context) ([]*model.LiveRecord, error)

	AppendNotification(ctx context.Context, rec model.NotificationRecord) error
	// Notifications returns the owner's audit records, oldest first.
	Notifications(ctx context.Context, ownerID string) ([]model.NotificationRecord, error)
	// PruneNotifications drops audit records sent before the cutoff and reports how many were removed.
	PruneNotifications(ctx context.Context, before time.Time) (int, error)
}

// Publisher receives committed changes.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev model.ChangeEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev model.ChangeEvent) error {
	return f(ctx, ev)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// apply builds the record after a write on top of prev (which may be nil).
func apply(prev *model.LiveRecord, ownerID string, sample model.HeartbeatSample, valid bool, now time.Time) *model.LiveRecord {
	next := &model.LiveRecord{OwnerID: ownerID}
	if prev != nil {
		next = prev.Clone()
	}
	sample.OwnerID = ownerID
	next.LatestSample = &sample
	next.Valid = valid
	next.Status = ""
	if !valid {
		next.Status = model.StatusDisconnected
	}
	next.UpdatedAt = now
	return next
}
