package heartbeat

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

type settings struct {
	publisher Publisher
	now       func() time.Time
	log       logger.Logger
	keyPrefix string
	maxRetry  int
}

func defaultSettings() settings {
	return settings{
		now:       time.Now,
		keyPrefix: "pulse",
		maxRetry:  8,
	}
}

// Option configures a store.
type Option func(*settings)

// WithPublisher sets where committed changes are published.
func WithPublisher(p Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithMaxRetries bounds optimistic transaction retries on the Redis store.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxRetry = n
		}
	}
}
