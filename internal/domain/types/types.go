// Package types contains common types used across the application
package types

import "time"

// Entry represents a leaderboard entry. Rank is 1-based.
type Entry struct {
	Rank    int     `json:"rank"`
	OwnerID string  `json:"ownerId"`
	Score   float64 `json:"score"`
}

// Leaderboard is the ranking read payload.
type Leaderboard struct {
	Entries []Entry   `json:"entries"`
	AsOf    time.Time `json:"asOf"`
	// Stale is set when the payload came from the last known cache rather than the sorted set.
	Stale bool `json:"stale"`
}

// Top returns a copy truncated to k entries.
func (l Leaderboard) Top(k int) Leaderboard {
	out := l
	if k < len(l.Entries) {
		out.Entries = append([]Entry(nil), l.Entries[:k]...)
	} else {
		out.Entries = append([]Entry(nil), l.Entries...)
	}
	return out
}

// ReadCacheEntry is an in-process cached leaderboard.
type ReadCacheEntry struct {
	Payload   Leaderboard
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its TTL at now.
func (e ReadCacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
