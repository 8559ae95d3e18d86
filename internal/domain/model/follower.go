package model

import "time"

// FollowerSubscription links a follower device to an owner.
type FollowerSubscription struct {
	FollowerID          string
	OwnerID             string
	PushToken           string
	NotificationEnabled bool
}

// Eligible reports whether a push can be addressed to this subscription.
func (f FollowerSubscription) Eligible() bool {
	return f.NotificationEnabled && f.PushToken != ""
}

// RankingEntry is one owner's ranking metric as held by the profile store.
type RankingEntry struct {
	OwnerID   string
	Score     float64
	UpdatedAt time.Time
}
