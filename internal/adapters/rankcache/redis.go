package rankcache

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/types"
)

const zaddChunk = 1000

// RedisSet keeps the ranking image in a Redis sorted set. Scores are stored negated so
// that ascending ZRANGE order (with the member as the lexical tie break) is score DESC, id ASC.
type RedisSet struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSet returns a set stored under "<prefix>:rank".
func NewRedisSet(client redis.UniversalClient, prefix string) *RedisSet {
	if prefix == "" {
		prefix = "pulse"
	}
	return &RedisSet{client: client, key: prefix + ":rank"}
}

// Replace loads entries into a staging key and renames it over the live key.
func (s *RedisSet) Replace(ctx context.Context, entries []model.RankingEntry) error {
	members := make([]*redis.Z, 0, len(entries))
	for _, e := range entries {
		if math.IsNaN(e.Score) {
			continue
		}
		members = append(members, &redis.Z{Score: -e.Score, Member: e.OwnerID})
	}
	if len(members) == 0 {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("rankcache: clear: %w", err)
		}
		return nil
	}

	staging := s.key + ":staging:" + uuid.NewString()
	for start := 0; start < len(members); start += zaddChunk {
		end := min(start+zaddChunk, len(members))
		if err := s.client.ZAdd(ctx, staging, members[start:end]...).Err(); err != nil {
			_ = s.client.Del(ctx, staging).Err()
			return fmt.Errorf("rankcache: stage: %w", err)
		}
	}
	if err := s.client.Rename(ctx, staging, s.key).Err(); err != nil {
		_ = s.client.Del(ctx, staging).Err()
		return fmt.Errorf("rankcache: swap: %w", err)
	}
	return nil
}

// TopN implements SortedSet.
func (s *RedisSet) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	zs, err := s.client.ZRangeWithScores(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("rankcache: top %d: %w", n, err)
	}
	out := make([]types.Entry, 0, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, types.Entry{Rank: i + 1, OwnerID: id, Score: -z.Score})
	}
	return out, nil
}

// Rank implements SortedSet.
func (s *RedisSet) Rank(ctx context.Context, ownerID string) (types.Entry, error) {
	pipe := s.client.Pipeline()
	rank := pipe.ZRank(ctx, s.key, ownerID)
	score := pipe.ZScore(ctx, s.key, ownerID)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Entry{}, ErrNotFound
		}
		return types.Entry{}, fmt.Errorf("rankcache: rank %s: %w", ownerID, err)
	}
	return types.Entry{Rank: int(rank.Val()) + 1, OwnerID: ownerID, Score: -score.Val()}, nil
}

// Count implements SortedSet.
func (s *RedisSet) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("rankcache: count: %w", err)
	}
	return int(n), nil
}
