// Package sensor provides a simulated heart rate sensor for the wearable binary and tests.
package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/acquisition"
)

// Simulated emits a random walk around a base rate.
type Simulated struct {
	interval     time.Duration
	base         int
	silentAfter  int
	invalidEvery int
	unavailable  bool
	startErr     error
	now          func() time.Time
}

// Option configures a Simulated sensor.
type Option func(*Simulated)

// WithInterval sets the time between samples.
func WithInterval(d time.Duration) Option {
	return func(s *Simulated) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBaseBPM sets the resting rate the walk centres on.
func WithBaseBPM(bpm int) Option {
	return func(s *Simulated) {
		if bpm > 0 {
			s.base = bpm
		}
	}
}

// WithSilentAfter stops emitting samples after n of them while keeping the session open.
func WithSilentAfter(n int) Option {
	return func(s *Simulated) { s.silentAfter = n }
}

// WithInvalidEvery makes every nth sample an out of range reading.
func WithInvalidEvery(n int) Option {
	return func(s *Simulated) { s.invalidEvery = n }
}

// WithUnavailable makes Available report false.
func WithUnavailable() Option {
	return func(s *Simulated) { s.unavailable = true }
}

// WithStartError makes StartSession fail with err.
func WithStartError(err error) Option {
	return func(s *Simulated) { s.startErr = err }
}

// NewSimulated creates a sensor emitting once a second around 70 bpm.
func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{interval: time.Second, base: 70, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available implements acquisition.Sensor.
func (s *Simulated) Available() bool { return !s.unavailable }

// StartSession implements acquisition.Sensor.
func (s *Simulated) StartSession(_ context.Context, sink acquisition.SessionSink) (acquisition.Session, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	sess := &session{stop: make(chan struct{}), done: make(chan struct{})}
	sink.OnSessionStateChanged(acquisition.SessionRunning, nil)
	go s.emit(sess, sink)
	return sess, nil
}

func (s *Simulated) emit(sess *session, sink acquisition.SessionSink) {
	defer close(sess.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	bpm := s.base
	for n := 1; ; n++ {
		select {
		case <-sess.stop:
			return
		case <-t.C:
		}
		if s.silentAfter > 0 && n > s.silentAfter {
			continue
		}
		if s.invalidEvery > 0 && n%s.invalidEvery == 0 {
			sink.OnSampleReceived(0, s.now())
			continue
		}
		bpm += rand.IntN(7) - 3
		bpm = max(s.base-25, min(s.base+25, bpm))
		sink.OnSampleReceived(bpm, s.now())
	}
}

type session struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// End stops sample delivery and waits for the emitter to exit.
func (s *session) End() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
