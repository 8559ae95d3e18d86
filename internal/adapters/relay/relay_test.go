package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pulse/internal/adapters/relay"
	"github.com/okian/pulse/internal/domain/model"
)

// gateChannel records envelopes and can hold the first delivery until released.
type gateChannel struct {
	mu        sync.Mutex
	got       []model.Envelope
	hold      chan struct{}
	entered   chan struct{}
	fail      error
	delivered chan struct{}
}

func newGateChannel(hold bool) *gateChannel {
	g := &gateChannel{entered: make(chan struct{}, 16), delivered: make(chan struct{}, 16)}
	if hold {
		g.hold = make(chan struct{})
	}
	return g
}

func (g *gateChannel) Deliver(ctx context.Context, env model.Envelope) error {
	g.entered <- struct{}{}
	g.mu.Lock()
	hold := g.hold
	g.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
		g.mu.Lock()
		g.hold = nil
		g.mu.Unlock()
	}
	g.mu.Lock()
	g.got = append(g.got, env)
	err := g.fail
	g.mu.Unlock()
	g.delivered <- struct{}{}
	return err
}

func (g *gateChannel) envelopes() []model.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Envelope(nil), g.got...)
}

func wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func sample(bpm int) model.HeartbeatSample {
	return model.HeartbeatSample{OwnerID: "owner-1", BPM: bpm, CapturedAt: time.UnixMilli(1_700_000_000_000)}
}

func TestRelaySend(t *testing.T) {
	Convey("Given a relay over a recording channel", t, func() {
		ch := newGateChannel(false)
		r := relay.New(ch, relay.WithMaxRate(1000))
		defer r.Close()

		Convey("When a valid sample is sent", func() {
			So(r.Send(sample(72)), ShouldBeNil)
			So(wait(ch.delivered), ShouldBeTrue)

			Convey("Then a value envelope reaches the channel", func() {
				env := ch.envelopes()[0]
				So(env.Type, ShouldEqual, model.EnvelopeTypeHeartRate)
				So(env.OwnerID, ShouldEqual, "owner-1")
				So(env.BPM, ShouldEqual, 72)
				So(env.TimestampMs, ShouldEqual, 1_700_000_000_000)
				So(env.IsValidReading, ShouldBeTrue)
				So(env.MessageID, ShouldNotBeEmpty)
			})
		})

		Convey("When an out of range sample is sent", func() {
			err := r.Send(sample(0))

			Convey("Then it is refused and nothing is delivered", func() {
				So(err, ShouldEqual, relay.ErrInvalidSample)
				So(r.Send(sample(221)), ShouldEqual, relay.ErrInvalidSample)
				So(ch.envelopes(), ShouldBeEmpty)
			})
		})

		Convey("When a clear is sent", func() {
			at := time.UnixMilli(1_700_000_016_000)
			So(r.SendCleared("owner-1", at), ShouldBeNil)
			So(wait(ch.delivered), ShouldBeTrue)

			Convey("Then the disconnected marker is delivered", func() {
				env := ch.envelopes()[0]
				So(env.IsValidReading, ShouldBeFalse)
				So(env.Status, ShouldEqual, model.StatusDisconnected)
				So(env.TimestampMs, ShouldEqual, at.UnixMilli())
				So(env.Cleared(), ShouldBeTrue)
			})
		})
	})
}

func TestRelayCoalescing(t *testing.T) {
	Convey("Given a relay whose channel is stuck on the first delivery", t, func() {
		ch := newGateChannel(true)
		r := relay.New(ch, relay.WithMaxRate(1000), relay.WithTimeout(5*time.Second))
		defer r.Close()

		So(r.Send(sample(70)), ShouldBeNil)
		So(wait(ch.entered), ShouldBeTrue)

		Convey("When several newer samples queue up", func() {
			So(r.Send(sample(71)), ShouldBeNil)
			So(r.Send(sample(72)), ShouldBeNil)
			So(r.Send(sample(73)), ShouldBeNil)
			close(ch.hold)

			So(wait(ch.delivered), ShouldBeTrue)
			So(wait(ch.delivered), ShouldBeTrue)

			Convey("Then only the latest one follows the stuck delivery", func() {
				envs := ch.envelopes()
				So(envs, ShouldHaveLength, 2)
				So(envs[0].BPM, ShouldEqual, 70)
				So(envs[1].BPM, ShouldEqual, 73)
			})
		})
	})
}

func TestRelayFailures(t *testing.T) {
	Convey("Given a relay over a failing channel", t, func() {
		ch := newGateChannel(false)
		ch.fail = errors.New("companion unreachable")
		var mu sync.Mutex
		var sunk []error
		r := relay.New(ch, relay.WithMaxRate(1000), relay.WithErrorSink(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			sunk = append(sunk, err)
		}))

		Convey("When a send fails", func() {
			So(r.Send(sample(80)), ShouldBeNil)
			So(wait(ch.delivered), ShouldBeTrue)
			r.Close()

			Convey("Then the error reaches the sink and is not retried", func() {
				mu.Lock()
				defer mu.Unlock()
				So(sunk, ShouldHaveLength, 1)
				So(ch.envelopes(), ShouldHaveLength, 1)
			})
		})

		Convey("When the relay is closed", func() {
			r.Close()
			r.Close()

			Convey("Then sends are refused", func() {
				So(r.Send(sample(80)), ShouldEqual, relay.ErrClosed)
				So(r.SendCleared("owner-1", time.Now()), ShouldEqual, relay.ErrClosed)
			})
		})
	})
}

func TestHTTPChannel(t *testing.T) {
	Convey("Given a backend ingest endpoint", t, func() {
		var got model.Envelope
		var status atomic.Int32
		status.Store(http.StatusAccepted)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(int(status.Load()))
		}))
		defer srv.Close()

		ch, err := relay.NewHTTPChannel(srv.URL, time.Second)
		So(err, ShouldBeNil)
		env := model.NewValueEnvelope(sample(95))

		Convey("When the backend accepts", func() {
			err := ch.Deliver(context.Background(), env)

			Convey("Then the envelope is posted as JSON", func() {
				So(err, ShouldBeNil)
				So(got.MessageID, ShouldEqual, env.MessageID)
				So(got.BPM, ShouldEqual, 95)
			})
		})

		Convey("When the backend rejects", func() {
			status.Store(http.StatusUnprocessableEntity)
			err := ch.Deliver(context.Background(), env)

			Convey("Then ErrRejected is returned", func() {
				So(errors.Is(err, relay.ErrRejected), ShouldBeTrue)
			})
		})
	})
}
