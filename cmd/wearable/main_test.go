package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/pulse/internal/adapters/relay"
	"github.com/okian/pulse/internal/adapters/sensor"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
)

type ingest struct {
	mu        sync.Mutex
	envelopes []model.Envelope
}

func (i *ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env model.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	i.mu.Lock()
	i.envelopes = append(i.envelopes, env)
	i.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (i *ingest) received() []model.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]model.Envelope(nil), i.envelopes...)
}

func fastConfig(url string) *config.Config {
	cfg := config.New()
	cfg.OwnerID = "owner-1"
	cfg.RelayURL = url
	cfg.RelayMaxRate = 100
	cfg.SendTickInterval = 10 * time.Millisecond
	cfg.TimeoutTickInterval = 10 * time.Millisecond
	cfg.SensorTimeoutWindow = 40 * time.Millisecond
	cfg.MaxConsecutiveSkips = 3
	return cfg
}

func TestRun(t *testing.T) {
	convey.Convey("Given a backend and a sensor that goes silent", t, func() {
		backend := &ingest{}
		srv := httptest.NewServer(backend)
		defer srv.Close()

		cfg := fastConfig(srv.URL)
		channel, err := relay.NewHTTPChannel(cfg.RelayURL, time.Second)
		convey.So(err, convey.ShouldBeNil)
		sim := sensor.NewSimulated(sensor.WithInterval(2*time.Millisecond), sensor.WithSilentAfter(5))

		convey.Convey("When monitoring runs", func() {
			done := make(chan error, 1)
			go func() { done <- run(context.Background(), cfg, sim, channel) }()

			convey.Convey("Then it relays readings and auto-stops on its own", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(3 * time.Second):
					convey.So("run did not auto-stop", convey.ShouldBeEmpty)
				}
				got := backend.received()
				convey.So(len(got), convey.ShouldBeGreaterThan, 0)
				convey.So(got[0].OwnerID, convey.ShouldEqual, "owner-1")
				convey.So(got[0].IsValidReading, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			steady := sensor.NewSimulated(sensor.WithInterval(2 * time.Millisecond))
			done := make(chan error, 1)
			go func() { done <- run(ctx, cfg, steady, channel) }()
			time.Sleep(30 * time.Millisecond)
			cancel()

			convey.Convey("Then run returns promptly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(3 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})
	})

	convey.Convey("Given an unavailable sensor", t, func() {
		cfg := fastConfig("http://127.0.0.1:1")
		channel, err := relay.NewHTTPChannel(cfg.RelayURL, time.Second)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then run fails fast", func() {
			err := run(context.Background(), cfg, sensor.NewSimulated(sensor.WithUnavailable()), channel)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
