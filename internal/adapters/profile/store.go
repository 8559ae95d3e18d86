// Package profile reads the durable profile store: owner names, follower subscriptions
// and the ranking metric. This service never writes profile data outside of seeding.
package profile

import (
	"context"
	"errors"

	"github.com/okian/pulse/internal/domain/model"
)

// ErrOwnerNotFound is returned when the owner has no profile.
var ErrOwnerNotFound = errors.New("owner profile not found")

// Store is the read-only view of the profile store.
type Store interface {
	// Followers returns every subscription to ownerID, eligible or not.
	Followers(ctx context.Context, ownerID string) ([]model.FollowerSubscription, error)
	// OwnerName returns the owner's display name or ErrOwnerNotFound.
	OwnerName(ctx context.Context, ownerID string) (string, error)
	// RankingScores scans the ranking metric of every owner.
	RankingScores(ctx context.Context) ([]model.RankingEntry, error)
}
