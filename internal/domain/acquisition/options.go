package acquisition

import (
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Option configures a Machine.
type Option func(*Machine)

// WithTimeoutWindow sets how old the last sample may be before it is considered stale.
func WithTimeoutWindow(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeoutWindow = d
		}
	}
}

// WithSendInterval sets the send tick period.
func WithSendInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.sendEvery = d
		}
	}
}

// WithTimeoutInterval sets the timeout tick period.
func WithTimeoutInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeoutEvery = d
		}
	}
}

// WithMaxConsecutiveSkips sets the auto-stop threshold.
func WithMaxConsecutiveSkips(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxSkips = n
		}
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithErrorSink receives non-fatal session and relay errors.
func WithErrorSink(sink func(error)) Option {
	return func(m *Machine) {
		if sink != nil {
			m.errSink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		m.log = l
	}
}
