package relay

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Relay.
type Option func(*Relay)

// WithMaxRate caps deliveries per second. A burst of one keeps the transport from being
// flooded after a stall.
func WithMaxRate(perSecond float64) Option {
	return func(r *Relay) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTimeout bounds a single delivery.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithErrorSink receives delivery failures.
func WithErrorSink(sink func(error)) Option {
	return func(r *Relay) {
		if sink != nil {
			r.errSink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		r.log = l
	}
}
