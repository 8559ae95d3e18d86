// Package reaper deletes live records whose latest sample is older than the retention window.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Store is the part of the live store the reaper sweeps.
type Store interface {
	List(ctx context.Context) ([]*model.LiveRecord, error)
	DeleteIfStale(ctx context.Context, ownerID string, cutoff time.Time) (bool, error)
	PruneNotifications(ctx context.Context, before time.Time) (int, error)
}

// Result summarises one sweep.
type Result struct {
	Scanned       int       `json:"scanned"`
	Deleted       int       `json:"deleted"`
	Failed        int       `json:"failed"`
	Refreshed     int       `json:"refreshed"`
	Notifications int       `json:"notificationsPruned"`
	Cutoff        time.Time `json:"cutoff"`
}

// Reaper sweeps expired live data.
type Reaper struct {
	store     Store
	retention time.Duration
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithRetention sets how long a record survives after its last sample.
func WithRetention(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reaper) {
		r.log = l
	}
}

// New creates a Reaper with a one hour retention.
func New(store Store, opts ...Option) *Reaper {
	r := &Reaper{store: store, retention: time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("reaper")
	}
	return r
}

// Sweep deletes every record whose latest sample is strictly older than now-retention.
// The age is checked again by the store at delete time, so a record refreshed after the
// scan survives and is counted as refreshed. Per-record failures are logged and counted;
// only a failed scan aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	start := r.now()
	cutoff := start.Add(-r.retention)
	res := Result{Cutoff: cutoff}

	records, err := r.store.List(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("reaper", "list")
		return res, fmt.Errorf("reaper list: %w", err)
	}
	res.Scanned = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !rec.LastSeen().Before(cutoff) {
			continue
		}
		deleted, err := r.store.DeleteIfStale(ctx, rec.OwnerID, cutoff)
		if err != nil {
			res.Failed++
			metrics.RecordErrorByComponent("reaper", "delete")
			r.log.Warn(ctx, "delete expired record", logger.String("owner_id", rec.OwnerID), logger.Error(err))
			continue
		}
		if !deleted {
			res.Refreshed++
			continue
		}
		res.Deleted++
	}

	pruned, err := r.store.PruneNotifications(ctx, cutoff)
	if err != nil {
		metrics.RecordErrorByComponent("reaper", "prune")
		r.log.Warn(ctx, "prune notification records", logger.Error(err))
	}
	res.Notifications = pruned

	metrics.RecordReaperDeleted("live", res.Deleted)
	metrics.RecordReaperDeleted("notification", res.Notifications)
	metrics.RecordReaperRun(float64(time.Since(start).Milliseconds()), start)
	r.log.Info(ctx, "sweep finished",
		logger.Int("scanned", res.Scanned),
		logger.Int("deleted", res.Deleted),
		logger.Int("failed", res.Failed),
		logger.Int("refreshed", res.Refreshed),
		logger.Int("notifications_pruned", res.Notifications),
	)
	return res, nil
}
