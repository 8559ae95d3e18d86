package heartbeat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// MemoryStore is a process-local Store. Mutations serialize on a single mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*model.LiveRecord
	notifications map[string][]model.NotificationRecord
	cfg           settings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Get().Named("heartbeat_store")
	}
	return &MemoryStore{
		records:       make(map[string]*model.LiveRecord),
		notifications: make(map[string][]model.NotificationRecord),
		cfg:           cfg,
	}
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, ownerID string, sample model.HeartbeatSample, valid bool) (*model.LiveRecord, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}
	now := m.cfg.now()

	m.mu.Lock()
	prev := m.records[ownerID]
	next := apply(prev, ownerID, sample, valid, now)
	m.records[ownerID] = next
	size := len(m.records)
	ev := model.ChangeEvent{OwnerID: ownerID, Before: prev.Clone(), After: next.Clone(), At: now}
	m.mu.Unlock()

	metrics.RecordStoreWrite("write")
	metrics.UpdateLiveRecords(size)
	m.publish(ctx, ev)
	return next.Clone(), nil
}

// Read implements Store.
func (m *MemoryStore) Read(_ context.Context, ownerID string) (*model.LiveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	_, err := m.deleteWhen(ctx, ownerID, func(*model.LiveRecord) bool { return true })
	return err
}

// DeleteIfStale implements Store.
func (m *MemoryStore) DeleteIfStale(ctx context.Context, ownerID string, cutoff time.Time) (bool, error) {
	return m.deleteWhen(ctx, ownerID, func(rec *model.LiveRecord) bool {
		return rec.LastSeen().Before(cutoff)
	})
}

func (m *MemoryStore) deleteWhen(ctx context.Context, ownerID string, match func(*model.LiveRecord) bool) (bool, error) {
	m.mu.Lock()
	prev, ok := m.records[ownerID]
	if !ok || !match(prev) {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.records, ownerID)
	size := len(m.records)
	m.mu.Unlock()

	metrics.RecordStoreWrite("delete")
	metrics.UpdateLiveRecords(size)
	m.publish(ctx, model.ChangeEvent{OwnerID: ownerID, Before: prev, At: m.cfg.now()})
	return true, nil
}

// SetLastNotificationSentAt implements Store.
func (m *MemoryStore) SetLastNotificationSentAt(ctx context.Context, ownerID string, at time.Time) error {
	m.mu.Lock()
	prev, ok := m.records[ownerID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	next := prev.Clone()
	next.LastNotificationSentAt = &at
	m.records[ownerID] = next
	m.mu.Unlock()

	metrics.RecordStoreWrite("cooldown")
	m.publish(ctx, model.ChangeEvent{OwnerID: ownerID, Before: prev.Clone(), After: next.Clone(), At: m.cfg.now()})
	return nil
}

// CompareAndSetLastNotificationSentAt implements Store.
func (m *MemoryStore) CompareAndSetLastNotificationSentAt(ctx context.Context, ownerID string, expected, next *time.Time) (bool, error) {
	m.mu.Lock()
	prev, ok := m.records[ownerID]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	if !sameTime(prev.LastNotificationSentAt, expected) {
		m.mu.Unlock()
		return false, nil
	}
	updated := prev.Clone()
	updated.LastNotificationSentAt = copyTime(next)
	m.records[ownerID] = updated
	m.mu.Unlock()

	metrics.RecordStoreWrite("cooldown")
	m.publish(ctx, model.ChangeEvent{OwnerID: ownerID, Before: prev.Clone(), After: updated.Clone(), At: m.cfg.now()})
	return true, nil
}

// List implements Store. Records are ordered by owner id.
func (m *MemoryStore) List(_ context.Context) ([]*model.LiveRecord, error) {
	m.mu.RLock()
	out := make([]*model.LiveRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// AppendNotification implements Store.
func (m *MemoryStore) AppendNotification(_ context.Context, rec model.NotificationRecord) error {
	if rec.OwnerID == "" {
		return ErrEmptyOwnerID
	}
	m.mu.Lock()
	m.notifications[rec.OwnerID] = append(m.notifications[rec.OwnerID], rec)
	m.mu.Unlock()
	return nil
}

// Notifications implements Store.
func (m *MemoryStore) Notifications(_ context.Context, ownerID string) ([]model.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.NotificationRecord(nil), m.notifications[ownerID]...), nil
}

// PruneNotifications implements Store.
func (m *MemoryStore) PruneNotifications(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for owner, recs := range m.notifications {
		kept := recs[:0]
		for _, r := range recs {
			if r.SentAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.notifications, owner)
			continue
		}
		m.notifications[owner] = kept
	}
	return removed, nil
}

func (m *MemoryStore) publish(ctx context.Context, ev model.ChangeEvent) {
	if m.cfg.publisher == nil {
		return
	}
	if err := m.cfg.publisher.Publish(ctx, ev); err != nil {
		m.cfg.log.Warn(ctx, "change event dropped", logger.String("owner_id", ev.OwnerID), logger.Error(err))
		metrics.RecordErrorByComponent("heartbeat_store", "publish_failed")
	}
}
