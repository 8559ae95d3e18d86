package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

type owner struct {
	name      string
	score     float64
	hasScore  bool
	updatedAt time.Time
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	owners    map[string]owner
	followers map[string][]model.FollowerSubscription
	// scanErr, when set, fails RankingScores.
	scanErr error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:    make(map[string]owner),
		followers: make(map[string][]model.FollowerSubscription),
	}
}

// PutOwner creates or renames an owner.
func (m *MemoryStore) PutOwner(ownerID, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.owners[ownerID]
	o.name = displayName
	m.owners[ownerID] = o
}

// SetScore sets the owner's ranking metric, creating the owner if needed.
func (m *MemoryStore) SetScore(ownerID string, score float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.owners[ownerID]
	o.score, o.hasScore, o.updatedAt = score, true, at
	m.owners[ownerID] = o
}

// Follow adds a subscription.
func (m *MemoryStore) Follow(sub model.FollowerSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followers[sub.OwnerID] = append(m.followers[sub.OwnerID], sub)
}

// FailScans makes RankingScores return err until called with nil.
func (m *MemoryStore) FailScans(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}

// Followers implements Store.
func (m *MemoryStore) Followers(_ context.Context, ownerID string) ([]model.FollowerSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.FollowerSubscription(nil), m.followers[ownerID]...), nil
}

// OwnerName implements Store.
func (m *MemoryStore) OwnerName(_ context.Context, ownerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.owners[ownerID]
	if !ok || o.name == "" {
		return "", ErrOwnerNotFound
	}
	return o.name, nil
}

// RankingScores implements Store. Owners without a metric are skipped.
func (m *MemoryStore) RankingScores(_ context.Context) ([]model.RankingEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	out := make([]model.RankingEntry, 0, len(m.owners))
	for id, o := range m.owners {
		if !o.hasScore {
			continue
		}
		out = append(out, model.RankingEntry{OwnerID: id, Score: o.score, UpdatedAt: o.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}
