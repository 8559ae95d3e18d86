package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// ErrConflict is returned when an optimistic transaction keeps losing to concurrent writers.
var ErrConflict = errors.New("live record update conflict")

// RedisStore keeps one JSON document per owner plus an owner index set.
// Mutations run under WATCH/MULTI so the published before/after snapshots match what was committed.
// Notification audit records live in one sorted set per owner scored by send time.
type RedisStore struct {
	client redis.UniversalClient
	cfg    settings
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.Get().Named("heartbeat_store")
	}
	return &RedisStore{client: client, cfg: cfg}
}

func (r *RedisStore) recordKey(ownerID string) string {
	return r.cfg.keyPrefix + ":live:" + ownerID
}

func (r *RedisStore) indexKey() string {
	return r.cfg.keyPrefix + ":live:index"
}

func (r *RedisStore) notifKey(ownerID string) string {
	return r.cfg.keyPrefix + ":notif:" + ownerID
}

func (r *RedisStore) notifIndexKey() string {
	return r.cfg.keyPrefix + ":notif:index"
}

// mutateFunc derives the next record from the current one. Returning a nil next deletes the record;
// returning skip=true aborts without writing.
type mutateFunc func(prev *model.LiveRecord) (next *model.LiveRecord, skip bool, err error)

// mutate runs fn inside an optimistic transaction on the owner's key and publishes the change.
func (r *RedisStore) mutate(ctx context.Context, ownerID, kind string, fn mutateFunc) (prev, next *model.LiveRecord, applied bool, err error) {
	key := r.recordKey(ownerID)

	for attempt := 0; attempt < r.cfg.maxRetry; attempt++ {
		applied = false
		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			var getErr error
			prev, getErr = r.get(ctx, tx, key)
			if getErr != nil && !errors.Is(getErr, ErrNotFound) {
				return getErr
			}

			var skip bool
			next, skip, getErr = fn(prev)
			if getErr != nil || skip {
				return getErr
			}

			_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, r.indexKey(), ownerID)
					return nil
				}
				raw, encErr := json.Marshal(next)
				if encErr != nil {
					return encErr
				}
				pipe.Set(ctx, key, raw, 0)
				pipe.SAdd(ctx, r.indexKey(), ownerID)
				return nil
			})
			if pipeErr == nil {
				applied = true
			}
			return pipeErr
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, nil, false, fmt.Errorf("heartbeat %s %s: %w", kind, ownerID, err)
		}
		if applied {
			metrics.RecordStoreWrite(kind)
			r.publish(ctx, model.ChangeEvent{OwnerID: ownerID, Before: prev.Clone(), After: next.Clone(), At: r.cfg.now()})
		}
		return prev, next, applied, nil
	}
	return nil, nil, false, fmt.Errorf("heartbeat %s %s: %w", kind, ownerID, ErrConflict)
}

func (r *RedisStore) get(ctx context.Context, c redis.Cmdable, key string) (*model.LiveRecord, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec model.LiveRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode live record %s: %w", key, err)
	}
	return &rec, nil
}

// Write implements Store.
func (r *RedisStore) Write(ctx context.Context, ownerID string, sample model.HeartbeatSample, valid bool) (*model.LiveRecord, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}
	_, next, _, err := r.mutate(ctx, ownerID, "write", func(prev *model.LiveRecord) (*model.LiveRecord, bool, error) {
		return apply(prev, ownerID, sample, valid, r.cfg.now()), false, nil
	})
	if err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Read implements Store.
func (r *RedisStore) Read(ctx context.Context, ownerID string) (*model.LiveRecord, error) {
	return r.get(ctx, r.client, r.recordKey(ownerID))
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, ownerID string) error {
	_, _, _, err := r.mutate(ctx, ownerID, "delete", func(prev *model.LiveRecord) (*model.LiveRecord, bool, error) {
		return nil, prev == nil, nil
	})
	return err
}

// DeleteIfStale implements Store.
func (r *RedisStore) DeleteIfStale(ctx context.Context, ownerID string, cutoff time.Time) (bool, error) {
	_, _, applied, err := r.mutate(ctx, ownerID, "delete", func(prev *model.LiveRecord) (*model.LiveRecord, bool, error) {
		return nil, prev == nil || !prev.LastSeen().Before(cutoff), nil
	})
	return applied, err
}

// SetLastNotificationSentAt implements Store.
func (r *RedisStore) SetLastNotificationSentAt(ctx context.Context, ownerID string, at time.Time) error {
	_, _, _, err := r.mutate(ctx, ownerID, "cooldown", func(prev *model.LiveRecord) (*model.LiveRecord, bool, error) {
		if prev == nil {
			return nil, true, ErrNotFound
		}
		next := prev.Clone()
		next.LastNotificationSentAt = &at
		return next, false, nil
	})
	return err
}

// CompareAndSetLastNotificationSentAt implements Store.
func (r *RedisStore) CompareAndSetLastNotificationSentAt(ctx context.Context, ownerID string, expected, next *time.Time) (bool, error) {
	_, _, applied, err := r.mutate(ctx, ownerID, "cooldown", func(prev *model.LiveRecord) (*model.LiveRecord, bool, error) {
		if prev == nil {
			return nil, true, ErrNotFound
		}
		if !sameTime(prev.LastNotificationSentAt, expected) {
			return nil, true, nil
		}
		updated := prev.Clone()
		updated.LastNotificationSentAt = copyTime(next)
		return updated, false, nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// List implements Store.
func (r *RedisStore) List(ctx context.Context) ([]*model.LiveRecord, error) {
	owners, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list live owners: %w", err)
	}
	if len(owners) == 0 {
		metrics.UpdateLiveRecords(0)
		return nil, nil
	}
	sort.Strings(owners)

	keys := make([]string, len(owners))
	for i, o := range owners {
		keys[i] = r.recordKey(o)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load live records: %w", err)
	}

	out := make([]*model.LiveRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// index entry without a document; left behind by an interrupted delete
			continue
		}
		var rec model.LiveRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			r.cfg.log.Warn(ctx, "skipping undecodable live record", logger.String("key", keys[i]), logger.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	metrics.UpdateLiveRecords(len(out))
	return out, nil
}

// AppendNotification implements Store.
func (r *RedisStore) AppendNotification(ctx context.Context, rec model.NotificationRecord) error {
	if rec.OwnerID == "" {
		return ErrEmptyOwnerID
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode notification record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.notifKey(rec.OwnerID), &redis.Z{Score: float64(rec.SentAt.UnixMilli()), Member: raw})
		pipe.SAdd(ctx, r.notifIndexKey(), rec.OwnerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append notification %s: %w", rec.OwnerID, err)
	}
	return nil
}

// Notifications implements Store.
func (r *RedisStore) Notifications(ctx context.Context, ownerID string) ([]model.NotificationRecord, error) {
	members, err := r.client.ZRange(ctx, r.notifKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load notifications %s: %w", ownerID, err)
	}
	out := make([]model.NotificationRecord, 0, len(members))
	for _, m := range members {
		var rec model.NotificationRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", ownerID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// PruneNotifications implements Store.
func (r *RedisStore) PruneNotifications(ctx context.Context, before time.Time) (int, error) {
	owners, err := r.client.SMembers(ctx, r.notifIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list notification owners: %w", err)
	}
	// exclusive upper bound: records at exactly the cutoff are kept
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	removed := 0
	for _, owner := range owners {
		n, err := r.client.ZRemRangeByScore(ctx, r.notifKey(owner), "-inf", upper).Result()
		if err != nil {
			return removed, fmt.Errorf("prune notifications %s: %w", owner, err)
		}
		removed += int(n)
		left, err := r.client.ZCard(ctx, r.notifKey(owner)).Result()
		if err == nil && left == 0 {
			r.client.SRem(ctx, r.notifIndexKey(), owner)
		}
	}
	return removed, nil
}

func (r *RedisStore) publish(ctx context.Context, ev model.ChangeEvent) {
	if r.cfg.publisher == nil {
		return
	}
	if err := r.cfg.publisher.Publish(ctx, ev); err != nil {
		r.cfg.log.Warn(ctx, "change event dropped", logger.String("owner_id", ev.OwnerID), logger.Error(err))
		metrics.RecordErrorByComponent("heartbeat_store", "publish_failed")
	}
}
