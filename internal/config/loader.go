package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PULSE_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PULSE_CONFIG is set
//  3. env (prefix PULSE_), including values from a .env file in the working directory
func Load(_ context.Context) (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load(".env")

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PULSE_COOLDOWN_WINDOW -> cooldown_window
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.CooldownWindow <= 0:
		return fmt.Errorf("%w: cooldown_window must be positive", ErrInvalidConfig)
	case c.RetentionWindow <= 0:
		return fmt.Errorf("%w: retention_window must be positive", ErrInvalidConfig)
	case c.PushBatchSize < 1 || c.PushBatchSize > 500:
		return fmt.Errorf("%w: push_batch_size must be within 1..500", ErrInvalidConfig)
	case c.SensorTimeoutWindow <= 0 || c.SendTickInterval <= 0 || c.TimeoutTickInterval <= 0:
		return fmt.Errorf("%w: sensor intervals must be positive", ErrInvalidConfig)
	case c.MaxConsecutiveSkips < 1:
		return fmt.Errorf("%w: max_consecutive_skips must be at least 1", ErrInvalidConfig)
	case c.RankingReadCacheTTL <= 0:
		return fmt.Errorf("%w: ranking_read_cache_ttl must be positive", ErrInvalidConfig)
	}

	for name, v := range map[string]string{"live_store": c.LiveStore, "rank_cache": c.RankCache} {
		if v != BackendMemory && v != BackendRedis {
			return fmt.Errorf("%w: %s must be memory or redis, got %q", ErrInvalidConfig, name, v)
		}
	}
	if c.ProfileStore != BackendMemory && c.ProfileStore != BackendPostgres {
		return fmt.Errorf("%w: profile_store must be memory or postgres, got %q", ErrInvalidConfig, c.ProfileStore)
	}
	if c.ProfileStore == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%w: database_url is required for the postgres profile store", ErrInvalidConfig)
	}
	if c.PushTransport != PushLog && c.PushTransport != PushFCM {
		return fmt.Errorf("%w: push_transport must be log or fcm, got %q", ErrInvalidConfig, c.PushTransport)
	}
	if c.PushTransport == PushFCM && c.FCMCredentials == "" {
		return fmt.Errorf("%w: fcm_credentials_file is required for the fcm transport", ErrInvalidConfig)
	}
	return nil
}
