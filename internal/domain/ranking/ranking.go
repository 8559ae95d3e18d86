// Package ranking keeps the leaderboard projection in step with the profile store.
//
// There are two cache tiers. The sorted set is rebuilt from a full profile scan on a schedule
// or on demand. In front of it sits an in-process read cache with a TTL. Reads never fail
// because the sorted set is unavailable: the last known board is served and marked stale.
package ranking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/pulse/internal/adapters/rankcache"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/types"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// ScoreSource scans the authoritative ranking metric.
type ScoreSource interface {
	RankingScores(ctx context.Context) ([]model.RankingEntry, error)
}

// SyncResult describes one bulk sync.
type SyncResult struct {
	Entries   int           `json:"entries"`
	Prewarmed int           `json:"prewarmed"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration"`
}

// readCache is the widest board fetched so far; limit is the k it was fetched with.
type readCache struct {
	entry types.ReadCacheEntry
	limit int
}

// Service serves and refreshes the leaderboard.
type Service struct {
	source  ScoreSource
	set     rankcache.SortedSet
	ttl     time.Duration
	prewarm int
	now     func() time.Time
	log     logger.Logger

	syncMu sync.Mutex

	mu         sync.Mutex
	cache      *readCache
	lastSyncAt time.Time
}

// New creates a Service with a five minute read cache TTL.
func New(source ScoreSource, set rankcache.SortedSet, opts ...Option) *Service {
	s := &Service{
		source:  source,
		set:     set,
		ttl:     5 * time.Minute,
		prewarm: 100,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("ranking")
	}
	return s
}

// BulkSync rebuilds the sorted set from a full scan and pre-warms the read cache.
// Concurrent calls are serialized.
func (s *Service) BulkSync(ctx context.Context) (SyncResult, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	start := s.now()
	scores, err := s.source.RankingScores(ctx)
	if err != nil {
		metrics.RecordRankingSyncError()
		s.log.Error(ctx, "scan ranking scores", logger.Error(err))
		return SyncResult{}, fmt.Errorf("ranking scan: %w", err)
	}
	if err := s.set.Replace(ctx, scores); err != nil {
		metrics.RecordRankingSyncError()
		s.log.Error(ctx, "replace sorted set", logger.Int("entries", len(scores)), logger.Error(err))
		return SyncResult{}, fmt.Errorf("ranking replace: %w", err)
	}

	at := s.now()
	s.mu.Lock()
	s.lastSyncAt = at
	if s.cache != nil {
		// The expired board remains the stale fallback until a new one is stored.
		expired := *s.cache
		expired.entry.ExpiresAt = time.Time{}
		s.cache = &expired
	}
	s.mu.Unlock()

	res := SyncResult{Entries: len(scores), At: at}
	if s.prewarm > 0 {
		if top, err := s.set.TopN(ctx, s.prewarm); err != nil {
			s.log.Warn(ctx, "prewarm read cache", logger.Error(err))
		} else {
			s.store(s.board(top, at), s.prewarm)
			res.Prewarmed = len(top)
		}
	}
	res.Duration = at.Sub(start)

	metrics.RecordRankingSync(float64(res.Duration.Milliseconds()), res.Entries, at)
	s.log.Info(ctx, "ranking sync finished",
		logger.Int("entries", res.Entries),
		logger.Int("prewarmed", res.Prewarmed),
		logger.Duration("duration", res.Duration),
	)
	return res, nil
}

// ManualSync is BulkSync triggered by an operator.
func (s *Service) ManualSync(ctx context.Context) (SyncResult, error) {
	s.log.Info(ctx, "manual ranking sync requested")
	return s.BulkSync(ctx)
}

// TopK returns the first k leaderboard entries.
func (s *Service) TopK(ctx context.Context, k int) (types.Leaderboard, error) {
	if k < 1 {
		return types.Leaderboard{}, rankcache.ErrInvalidLimit
	}
	now := s.now()

	s.mu.Lock()
	c := s.cache
	asOf := s.lastSyncAt
	s.mu.Unlock()
	if c != nil && c.entry.Fresh(now) && c.limit >= k {
		metrics.RecordRankingRead("hit")
		return c.entry.Payload.Top(k), nil
	}

	top, err := s.set.TopN(ctx, k)
	if err != nil {
		s.log.Warn(ctx, "sorted set read failed, serving last known board", logger.Int("k", k), logger.Error(err))
		metrics.RecordRankingRead("stale")
		if c == nil {
			return types.Leaderboard{Entries: []types.Entry{}, Stale: true}, nil
		}
		b := c.entry.Payload.Top(k)
		b.Stale = true
		return b, nil
	}

	metrics.RecordRankingRead("miss")
	b := s.board(top, asOf)
	s.store(b, k)
	return b.Top(k), nil
}

// Rank returns one owner's position from the sorted set.
func (s *Service) Rank(ctx context.Context, ownerID string) (types.Entry, error) {
	return s.set.Rank(ctx, ownerID)
}

// LastSyncAt returns when the sorted set was last rebuilt; zero before the first sync.
func (s *Service) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt
}

func (s *Service) board(entries []types.Entry, asOf time.Time) types.Leaderboard {
	if entries == nil {
		entries = []types.Entry{}
	}
	return types.Leaderboard{Entries: entries, AsOf: asOf}
}

// store keeps b unless a wider fresh board from the same sync is already cached.
func (s *Service) store(b types.Leaderboard, limit int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil && s.cache.entry.Fresh(now) && s.cache.limit > limit &&
		s.cache.entry.Payload.AsOf.Equal(b.AsOf) {
		return
	}
	s.cache = &readCache{
		entry: types.ReadCacheEntry{Payload: b, ExpiresAt: now.Add(s.ttl)},
		limit: limit,
	}
}
