// Package rankcache holds the sorted-set projection of the profile store's ranking metric.
//
// Ordering everywhere is score DESC, then owner id ASC. Rank is the 1-based position in
// that order, so owners with equal scores get distinct, deterministic ranks.
package rankcache

import (
	"context"
	"errors"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/types"
)

// Sentinel kinds for ranking cache errors.
var (
	ErrNotFound     = errors.New("owner not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)

// SortedSet is a replaceable ranking image.
type SortedSet interface {
	// Replace atomically swaps the whole image for one built from entries.
	// Readers see either the old or the new image, never a mix.
	Replace(ctx context.Context, entries []model.RankingEntry) error
	// TopN returns the first n entries in rank order.
	TopN(ctx context.Context, n int) ([]types.Entry, error)
	// Rank returns one owner's position, or ErrNotFound.
	Rank(ctx context.Context, ownerID string) (types.Entry, error)
	// Count returns the number of ranked owners.
	Count(ctx context.Context) (int, error)
}

// before reports whether (aScore, aID) ranks ahead of (bScore, bID).
func before(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}
