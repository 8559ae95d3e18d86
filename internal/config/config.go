// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers .env, an optional YAML file and PULSE_* environment variables.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Push transports.
const (
	PushLog = "log"
	PushFCM = "fcm"
)

// Config contains process configuration shared by the backend and wearable binaries.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	// IngestRateLimit and IngestRateBurst bound relay ingest per client IP.
	IngestRateLimit float64 `koanf:"ingest_rate_limit"`
	IngestRateBurst int     `koanf:"ingest_rate_burst"`
	// MaxLeaderboardLimit caps GET /v1/leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Notification dispatch.
	CooldownWindow  time.Duration `koanf:"cooldown_window"`
	PushBatchSize   int           `koanf:"push_batch_size"`
	PushConcurrency int           `koanf:"push_concurrency"`
	PushTransport   string        `koanf:"push_transport"`
	FCMCredentials  string        `koanf:"fcm_credentials_file"`

	// Change event queue and dispatch workers.
	EventQueueSize int `koanf:"queue_size"`
	WorkerCount    int `koanf:"worker_count"`
	// DedupeSize bounds the relay message id dedupe window.
	DedupeSize int           `koanf:"dedupe_size"`
	DedupeTTL  time.Duration `koanf:"dedupe_ttl"`

	// Retention and schedules.
	RetentionWindow     time.Duration `koanf:"retention_window"`
	ReaperSchedule      string        `koanf:"reaper_schedule"`
	RankingSyncSchedule string        `koanf:"ranking_sync_schedule"`
	RankingReadCacheTTL time.Duration `koanf:"ranking_read_cache_ttl"`
	RankingPrewarmLimit int           `koanf:"ranking_prewarm_limit"`

	// Storage backends.
	LiveStore      string `koanf:"live_store"`
	RankCache      string `koanf:"rank_cache"`
	ProfileStore   string `koanf:"profile_store"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`
	DatabaseURL    string `koanf:"database_url"`

	// Wearable acquisition and relay.
	OwnerID             string        `koanf:"owner_id"`
	RelayURL            string        `koanf:"relay_url"`
	RelayTimeout        time.Duration `koanf:"relay_timeout"`
	RelayMaxRate        float64       `koanf:"relay_max_rate"`
	SensorTimeoutWindow time.Duration `koanf:"sensor_timeout_window"`
	SendTickInterval    time.Duration `koanf:"send_tick_interval"`
	TimeoutTickInterval time.Duration `koanf:"timeout_tick_interval"`
	MaxConsecutiveSkips int           `koanf:"max_consecutive_skips"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		CORSAllowedOrigins:  []string{"*"},
		IngestRateLimit:     5,
		IngestRateBurst:     10,
		MaxLeaderboardLimit: 100,

		CooldownWindow:  5 * time.Minute,
		PushBatchSize:   500,
		PushConcurrency: 4,
		PushTransport:   PushLog,

		EventQueueSize: 10_000,
		WorkerCount:    runtime.NumCPU() * 2,
		DedupeSize:     100_000,
		DedupeTTL:      10 * time.Minute,

		RetentionWindow:     time.Hour,
		ReaperSchedule:      "0 3 * * *",
		RankingSyncSchedule: "55 * * * *",
		RankingReadCacheTTL: 5 * time.Minute,
		RankingPrewarmLimit: 100,

		LiveStore:      BackendMemory,
		RankCache:      BackendMemory,
		ProfileStore:   BackendMemory,
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "pulse",

		RelayURL:            "http://localhost:9080/v1/heartbeats",
		RelayTimeout:        2 * time.Second,
		RelayMaxRate:        1,
		SensorTimeoutWindow: 15 * time.Second,
		SendTickInterval:    3 * time.Second,
		TimeoutTickInterval: 5 * time.Second,
		MaxConsecutiveSkips: 5,
	}
}
