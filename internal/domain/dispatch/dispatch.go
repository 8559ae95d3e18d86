// Package dispatch turns live store changes into follower push notifications.
//
// A notification is sent at most once per cooldown window per owner. Delivery of change
// events is at-least-once, so the window is claimed with a compare-and-set on the owner's
// cooldown anchor before anything is sent; a duplicate invocation loses the claim.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/pulse/internal/adapters/heartbeat"
	"github.com/okian/pulse/internal/adapters/profile"
	"github.com/okian/pulse/internal/adapters/push"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Outcome is the terminal state of one Handle call.
type Outcome string

// Outcomes. None of them is an error from the caller's point of view.
const (
	OutcomeSkippedDeleted     Outcome = "skipped_deleted"
	OutcomeSkippedInvalid     Outcome = "skipped_invalid"
	OutcomeSkippedUnchanged   Outcome = "skipped_unchanged"
	OutcomeSuppressedCooldown Outcome = "suppressed_cooldown"
	OutcomeNoFollowers        Outcome = "no_followers"
	OutcomeOwnerMissing       Outcome = "owner_missing"
	OutcomeNoEligible         Outcome = "no_eligible"
	OutcomeSent               Outcome = "sent"
	OutcomeSendFailed         Outcome = "send_failed"
	// OutcomeFailed covers store or profile read errors.
	OutcomeFailed Outcome = "failed"
)

// NotificationType is the data.type value follower apps switch on.
const NotificationType = "heartbeat_update"

// LiveStore is the part of the live heartbeat store the dispatcher needs.
type LiveStore interface {
	Read(ctx context.Context, ownerID string) (*model.LiveRecord, error)
	CompareAndSetLastNotificationSentAt(ctx context.Context, ownerID string, expected, next *time.Time) (bool, error)
	AppendNotification(ctx context.Context, rec model.NotificationRecord) error
}

// Dispatcher handles change events.
type Dispatcher struct {
	store    LiveStore
	profiles profile.Store
	sender   push.Sender

	cooldown    time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
	log         logger.Logger
}

// New creates a Dispatcher.
func New(store LiveStore, profiles profile.Store, sender push.Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		profiles:    profiles,
		sender:      sender,
		cooldown:    5 * time.Minute,
		batchSize:   push.MaxBatchSize,
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.Get().Named("dispatch")
	}
	return d
}

// Handle processes one change event and reports what happened.
func (d *Dispatcher) Handle(ctx context.Context, ev model.ChangeEvent) Outcome {
	start := time.Now()
	out := d.handle(ctx, ev)
	metrics.RecordDispatchOutcome(string(out))
	metrics.RecordDispatchLatency(float64(time.Since(start).Milliseconds()))
	d.log.Debug(ctx, "dispatch handled", logger.String("owner_id", ev.OwnerID), logger.String("outcome", string(out)))
	return out
}

func (d *Dispatcher) handle(ctx context.Context, ev model.ChangeEvent) Outcome {
	if out, skip := classify(ev); skip {
		return out
	}
	ownerID := ev.OwnerID
	log := d.log.With(logger.String("owner_id", ownerID))

	rec, err := d.store.Read(ctx, ownerID)
	if errors.Is(err, heartbeat.ErrNotFound) {
		return OutcomeSkippedDeleted
	}
	if err != nil {
		log.Error(ctx, "read live record", logger.Error(err))
		metrics.RecordErrorByComponent("dispatch", "store_read")
		return OutcomeFailed
	}
	now := d.now()
	if rec.LastNotificationSentAt != nil && now.Sub(*rec.LastNotificationSentAt) < d.cooldown {
		return OutcomeSuppressedCooldown
	}

	followers, err := d.profiles.Followers(ctx, ownerID)
	if err != nil {
		log.Error(ctx, "read followers", logger.Error(err))
		metrics.RecordErrorByComponent("dispatch", "profile_read")
		return OutcomeFailed
	}
	if len(followers) == 0 {
		return OutcomeNoFollowers
	}

	name, err := d.profiles.OwnerName(ctx, ownerID)
	if errors.Is(err, profile.ErrOwnerNotFound) {
		// followers exist for an owner with no profile
		log.Warn(ctx, "owner profile missing, skipping notification")
		metrics.RecordErrorByComponent("dispatch", "owner_missing")
		return OutcomeOwnerMissing
	}
	if err != nil {
		log.Error(ctx, "read owner profile", logger.Error(err))
		metrics.RecordErrorByComponent("dispatch", "profile_read")
		return OutcomeFailed
	}

	tokens := eligibleTokens(followers)
	if len(tokens) == 0 {
		return OutcomeNoEligible
	}

	previous := rec.LastNotificationSentAt
	claimed, err := d.store.CompareAndSetLastNotificationSentAt(ctx, ownerID, previous, &now)
	if err != nil {
		log.Error(ctx, "claim cooldown window", logger.Error(err))
		metrics.RecordErrorByComponent("dispatch", "claim")
		return OutcomeFailed
	}
	if !claimed {
		return OutcomeSuppressedCooldown
	}

	bpm := ev.After.BPM()
	succeeded, failed := d.send(ctx, log, tokens, message(name, bpm))
	metrics.RecordPushTokens(succeeded, failed)

	if succeeded == 0 {
		reverted, err := d.store.CompareAndSetLastNotificationSentAt(ctx, ownerID, &now, previous)
		if err != nil || !reverted {
			log.Warn(ctx, "could not release cooldown window after failed send",
				logger.Bool("reverted", reverted), logger.Error(err))
		}
		log.Warn(ctx, "notification failed for every token", logger.Int("tokens", len(tokens)))
		return OutcomeSendFailed
	}

	err = d.store.AppendNotification(ctx, model.NotificationRecord{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		BPM:       bpm,
		SentAt:    now,
		Tokens:    len(tokens),
		Succeeded: succeeded,
		Failed:    failed,
	})
	if err != nil {
		log.Warn(ctx, "append notification record", logger.Error(err))
	}
	log.Info(ctx, "notification sent",
		logger.Int("bpm", bpm), logger.Int("succeeded", succeeded), logger.Int("failed", failed))
	return OutcomeSent
}

// classify applies the checks that need nothing but the event itself.
func classify(ev model.ChangeEvent) (Outcome, bool) {
	switch {
	case ev.After == nil:
		return OutcomeSkippedDeleted, true
	case !ev.After.Valid || ev.After.LatestSample == nil || !ev.After.LatestSample.Valid():
		return OutcomeSkippedInvalid, true
	case ev.Before != nil && ev.Before.BPM() == ev.After.BPM():
		return OutcomeSkippedUnchanged, true
	}
	return "", false
}

func eligibleTokens(followers []model.FollowerSubscription) []string {
	tokens := make([]string, 0, len(followers))
	seen := make(map[string]struct{}, len(followers))
	for _, f := range followers {
		if !f.Eligible() {
			continue
		}
		if _, dup := seen[f.PushToken]; dup {
			continue
		}
		seen[f.PushToken] = struct{}{}
		tokens = append(tokens, f.PushToken)
	}
	return tokens
}

func message(ownerName string, bpm int) push.Message {
	return push.Message{
		Title: ownerName,
		Body:  fmt.Sprintf("%s's heart rate is now %d bpm", ownerName, bpm),
		Data: map[string]string{
			"type": NotificationType,
			"bpm":  strconv.Itoa(bpm),
		},
	}
}

// send fans the tokens out in batches and totals the per-token results.
func (d *Dispatcher) send(ctx context.Context, log logger.Logger, tokens []string, msg push.Message) (succeeded, failed int) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.concurrency)

	for start := 0; start < len(tokens); start += d.batchSize {
		end := start + d.batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]
		g.Go(func() error {
			res, err := d.sender.SendMulticast(ctx, batch, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed += len(batch)
				log.Warn(ctx, "push batch failed", logger.Int("tokens", len(batch)), logger.Error(err))
				metrics.RecordErrorByComponent("dispatch", "push_batch")
				return nil
			}
			succeeded += res.Succeeded
			failed += res.Failed
			for _, f := range res.Failures {
				// tokens are never pruned here; the profile service owns them
				log.Warn(ctx, "push token rejected", logger.String("token", f.Token), logger.Error(f.Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return succeeded, failed
}
