package dispatch

import (
	"time"

	"github.com/okian/pulse/internal/adapters/push"
	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCooldown sets the minimum spacing between notifications for one owner.
func WithCooldown(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.cooldown = window
		}
	}
}

// WithBatchSize sets tokens per push request, capped at the transport limit.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 && n <= push.MaxBatchSize {
			d.batchSize = n
		}
	}
}

// WithConcurrency bounds concurrent push requests per notification.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}
