package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // Base URL of the backend
	Owners           int           // Number of simulated owners
	ReadingsPerOwner int           // Readings each owner posts, in order
	DuplicateEvery   int           // Re-post every nth envelope with the same messageId (0 never)
	Workers          int           // Owners posting concurrently
	Timeout          time.Duration // HTTP request timeout
	TopN             int           // Leaderboard entries to fetch at the end
}

// Stats holds run statistics.
type Stats struct {
	Submitted          int64
	Accepted           int64
	Duplicate          int64
	Rejected           int64
	Failed             int64
	Verified           int
	Mismatched         int
	LeaderboardEntries int
	StartTime          time.Time
	Duration           time.Duration
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type liveView struct {
	OwnerID string `json:"ownerId"`
	BPM     int    `json:"bpm"`
}
