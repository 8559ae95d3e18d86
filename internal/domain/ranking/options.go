package ranking

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the in-process read cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrewarmLimit sets how many entries a sync loads into the read cache. Zero disables it.
func WithPrewarmLimit(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.prewarm = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}
