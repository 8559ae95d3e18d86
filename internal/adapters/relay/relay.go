// Package relay forwards heart rate envelopes from the wearable to the backend.
//
// Delivery is best-effort and at-most-once. Send never waits on the network: the envelope
// goes into a single-slot mailbox and a newer envelope replaces one that has not been sent
// yet. One goroutine drains the mailbox, paced by a rate limiter.
package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Channel carries one envelope to the backend.
type Channel interface {
	Deliver(ctx context.Context, env model.Envelope) error
}

// Relay is the latest-only forwarding pipe.
type Relay struct {
	channel Channel
	limiter *rate.Limiter
	timeout time.Duration
	errSink func(error)
	log     logger.Logger

	mu      sync.Mutex
	pending *model.Envelope
	closed  bool
	wake    chan struct{}

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a Relay and starts its drain goroutine. Close releases it.
func New(channel Channel, opts ...Option) *Relay {
	r := &Relay{
		channel: channel,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		timeout: 2 * time.Second,
		errSink: func(error) {},
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("relay")
	}
	go r.drain()
	return r
}

// Send queues a value envelope for sample. Out of range samples are refused.
func (r *Relay) Send(sample model.HeartbeatSample) error {
	if !sample.Valid() {
		return ErrInvalidSample
	}
	return r.put(model.NewValueEnvelope(sample))
}

// SendCleared queues the disconnected marker for ownerID.
func (r *Relay) SendCleared(ownerID string, at time.Time) error {
	return r.put(model.NewClearedEnvelope(ownerID, at))
}

// Close stops the drain goroutine. An unsent envelope is dropped.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.stop)
	})
	<-r.done
}

func (r *Relay) put(env model.Envelope) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.pending != nil {
		metrics.RecordRelayCoalesced()
	}
	r.pending = &env
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

func (r *Relay) take() *model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	env := r.pending
	r.pending = nil
	return env
}

func (r *Relay) drain() {
	defer close(r.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		// Take after the wait so anything queued meanwhile wins.
		env := r.take()
		if env == nil {
			continue
		}
		r.deliver(ctx, *env)
	}
}

func (r *Relay) deliver(ctx context.Context, env model.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	kind := "value"
	if env.Cleared() {
		kind = "cleared"
	}
	start := time.Now()
	err := r.channel.Deliver(ctx, env)
	metrics.RecordRelayLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordRelayError()
		r.errSink(err)
		r.log.Warn(ctx, "relay delivery failed",
			logger.String("message_id", env.MessageID),
			logger.String("kind", kind),
			logger.Error(err),
		)
		return
	}
	metrics.RecordRelaySent(kind)
}
