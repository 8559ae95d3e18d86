package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pulse/internal/adapters/heartbeat"
	"github.com/okian/pulse/internal/adapters/http/api"
	"github.com/okian/pulse/internal/adapters/profile"
	"github.com/okian/pulse/internal/adapters/rankcache"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/ranking"
	"github.com/okian/pulse/internal/domain/reaper"
	"github.com/okian/pulse/internal/domain/types"
)

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

// failingStore fails every write.
type failingStore struct {
	*heartbeat.MemoryStore
}

func (f failingStore) Write(context.Context, string, model.HeartbeatSample, bool) (*model.LiveRecord, error) {
	return nil, errors.New("redis: connection refused")
}

type fixture struct {
	handler  http.Handler
	store    *heartbeat.MemoryStore
	profiles *profile.MemoryStore
	dedupe   dedupe.Deduper
	deps     api.Dependencies
}

func newFixture(opts ...api.Option) *fixture {
	f := &fixture{
		store:    heartbeat.NewMemoryStore(),
		profiles: profile.NewMemoryStore(),
		dedupe:   dedupe.NewInMemoryDeduper(),
	}
	svc := ranking.New(f.profiles, rankcache.NewTreapSet())
	f.deps = api.Dependencies{
		Deduper:     f.dedupe,
		Heartbeats:  f.store,
		Leaderboard: svc,
		Rankings:    svc,
		Reaper:      reaper.New(f.store),
		Stats:       &mockStatsProvider{stats: map[string]interface{}{"live_records": 0}},
		Health: []api.HealthCheck{
			{Name: "live_store", Check: func(context.Context) error { return nil }},
		},
	}
	f.handler = api.NewServer(f.deps, opts...).Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func envelopeJSON(id, owner string, bpm int, valid bool, status string) string {
	env := model.Envelope{
		Type:           model.EnvelopeTypeHeartRate,
		MessageID:      id,
		OwnerID:        owner,
		BPM:            bpm,
		TimestampMs:    time.Now().UnixMilli(),
		IsValidReading: valid,
		Status:         status,
	}
	b, _ := json.Marshal(env)
	return string(b)
}

func TestIngest(t *testing.T) {
	Convey("Given the API server", t, func() {
		f := newFixture()

		Convey("When a valid envelope is posted", func() {
			w := f.do("POST", "/v1/heartbeats", envelopeJSON("m-1", "owner-1", 72, true, ""))

			Convey("Then it is accepted and written to the live store", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				rec, err := f.store.Read(context.Background(), "owner-1")
				So(err, ShouldBeNil)
				So(rec.BPM(), ShouldEqual, 72)
				So(rec.Valid, ShouldBeTrue)
			})

			Convey("And the same messageId again is acknowledged as a duplicate", func() {
				w := f.do("POST", "/v1/heartbeats", envelopeJSON("m-1", "owner-1", 90, true, ""))
				So(w.Code, ShouldEqual, http.StatusOK)
				var ack map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &ack), ShouldBeNil)
				So(ack["duplicate"], ShouldEqual, true)

				rec, _ := f.store.Read(context.Background(), "owner-1")
				So(rec.BPM(), ShouldEqual, 72)
			})

			Convey("And a clear envelope marks the record disconnected", func() {
				w := f.do("POST", "/v1/heartbeats", envelopeJSON("m-2", "owner-1", 0, false, model.StatusDisconnected))
				So(w.Code, ShouldEqual, http.StatusAccepted)
				rec, _ := f.store.Read(context.Background(), "owner-1")
				So(rec.Valid, ShouldBeFalse)
				So(rec.Status, ShouldEqual, model.StatusDisconnected)
				So(rec.BPM(), ShouldEqual, 0)
			})
		})

		Convey("When out of range readings are posted", func() {
			for i, bpm := range []int{0, 221, -1} {
				w := f.do("POST", "/v1/heartbeats", envelopeJSON(fmt.Sprintf("bad-%d", i), "owner-2", bpm, true, ""))
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			}

			Convey("Then nothing is written", func() {
				_, err := f.store.Read(context.Background(), "owner-2")
				So(errors.Is(err, heartbeat.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When malformed envelopes are posted", func() {
			cases := []string{
				`{not json`,
				`{"type":"steps","messageId":"x","ownerId":"o","bpm":70,"timestampMs":1,"isValidReading":true}`,
				`{"type":"heartRate","ownerId":"o","bpm":70,"timestampMs":1,"isValidReading":true}`,
				`{"type":"heartRate","messageId":"x","bpm":70,"timestampMs":1,"isValidReading":true}`,
				`{"type":"heartRate","messageId":"x","ownerId":"o","bpm":70,"isValidReading":true}`,
				`{"type":"heartRate","messageId":"x","ownerId":"o","timestampMs":1,"isValidReading":false}`,
			}

			Convey("Then each is rejected with 400", func() {
				for _, body := range cases {
					w := f.do("POST", "/v1/heartbeats", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(w.Body.String(), ShouldContainSubstring, "bad_request")
				}
			})
		})
	})

	Convey("Given a live store that fails writes", t, func() {
		f := newFixture()
		f.deps.Heartbeats = failingStore{MemoryStore: f.store}
		h := api.NewServer(f.deps).Router()

		Convey("When an envelope is posted", func() {
			req := httptest.NewRequest("POST", "/v1/heartbeats", strings.NewReader(envelopeJSON("m-9", "owner-1", 70, true, "")))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			Convey("Then 503 is returned and the messageId can be retried", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldNotContainSubstring, "connection refused")
				So(f.dedupe.SeenAndRecord(context.Background(), "m-9"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a tight ingest rate limit", t, func() {
		f := newFixture(api.WithIngestRateLimit(0.001, 2))

		Convey("When a client exceeds its burst", func() {
			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, f.do("POST", "/v1/heartbeats", envelopeJSON(fmt.Sprintf("r-%d", i), "owner-1", 70+i, true, "")).Code)
			}

			Convey("Then the extra request gets 429", func() {
				So(codes, ShouldResemble, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests})
			})
		})
	})
}

func TestGetHeartbeat(t *testing.T) {
	Convey("Given a stored reading", t, func() {
		f := newFixture()
		captured := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		_, err := f.store.Write(context.Background(), "owner-1", model.HeartbeatSample{OwnerID: "owner-1", BPM: 88, CapturedAt: captured}, true)
		So(err, ShouldBeNil)

		Convey("When it is read", func() {
			w := f.do("GET", "/v1/heartbeats/owner-1", "")

			Convey("Then the live view is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var view map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &view), ShouldBeNil)
				So(view["ownerId"], ShouldEqual, "owner-1")
				So(view["bpm"], ShouldEqual, float64(88))
				So(view["isValidReading"], ShouldEqual, true)
				So(view["capturedAt"], ShouldEqual, captured.Format(time.RFC3339))
			})
		})

		Convey("When an unknown owner is read", func() {
			w := f.do("GET", "/v1/heartbeats/nobody", "")

			Convey("Then 404 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(w.Body.String(), ShouldContainSubstring, "not_found")
			})
		})
	})
}

func TestLeaderboard(t *testing.T) {
	Convey("Given synced rankings", t, func() {
		f := newFixture(api.WithMaxLeaderboardLimit(50))
		for i := 0; i < 20; i++ {
			f.profiles.SetScore(fmt.Sprintf("owner-%02d", i), float64(i*10), time.Now())
		}
		w := f.do("POST", "/v1/admin/rankings/sync", "")
		So(w.Code, ShouldEqual, http.StatusOK)

		Convey("When the top 3 are requested", func() {
			w := f.do("GET", "/v1/leaderboard?limit=3", "")

			Convey("Then they come back in rank order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var board types.Leaderboard
				So(json.Unmarshal(w.Body.Bytes(), &board), ShouldBeNil)
				So(board.Stale, ShouldBeFalse)
				So(board.Entries, ShouldHaveLength, 3)
				So(board.Entries[0], ShouldResemble, types.Entry{Rank: 1, OwnerID: "owner-19", Score: 190})
				So(board.Entries[2].OwnerID, ShouldEqual, "owner-17")
			})
		})

		Convey("When no limit is given", func() {
			w := f.do("GET", "/v1/leaderboard", "")

			Convey("Then ten entries are returned", func() {
				var board types.Leaderboard
				So(json.Unmarshal(w.Body.Bytes(), &board), ShouldBeNil)
				So(board.Entries, ShouldHaveLength, 10)
			})
		})

		Convey("When the limit is invalid or too large", func() {
			Convey("Then 400 is returned", func() {
				So(f.do("GET", "/v1/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
				So(f.do("GET", "/v1/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
				So(f.do("GET", "/v1/leaderboard?limit=51", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When one owner's rank is requested", func() {
			w := f.do("GET", "/v1/leaderboard/owner-15", "")

			Convey("Then the entry is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var e types.Entry
				So(json.Unmarshal(w.Body.Bytes(), &e), ShouldBeNil)
				So(e.Rank, ShouldEqual, 5)
				So(f.do("GET", "/v1/leaderboard/ghost", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given a profile store that cannot be scanned", t, func() {
		f := newFixture()
		f.profiles.FailScans(errors.New("primary down"))

		Convey("When a manual sync is requested", func() {
			w := f.do("POST", "/v1/admin/rankings/sync", "")

			Convey("Then 503 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}

func TestAdminReap(t *testing.T) {
	Convey("Given an expired and a fresh record", t, func() {
		f := newFixture()
		ctx := context.Background()
		_, _ = f.store.Write(ctx, "old", model.HeartbeatSample{BPM: 70, CapturedAt: time.Now().Add(-2 * time.Hour)}, true)
		_, _ = f.store.Write(ctx, "new", model.HeartbeatSample{BPM: 70, CapturedAt: time.Now()}, true)

		Convey("When a sweep is requested", func() {
			w := f.do("POST", "/v1/admin/reap", "")

			Convey("Then only the expired record is deleted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var res reaper.Result
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.Scanned, ShouldEqual, 2)
				So(res.Deleted, ShouldEqual, 1)
				_, err := f.store.Read(ctx, "new")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API server", t, func() {
		f := newFixture()

		Convey("Then /healthz reports ok", func() {
			w := f.do("GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"live_store":"ok"`)
		})

		Convey("Then /stats returns the provider's map", func() {
			w := f.do("GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "live_records")
		})

		Convey("Then /metrics exposes prometheus text", func() {
			w := f.do("GET", "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "pulse_")
		})

		Convey("Then /openapi.yaml is served", func() {
			So(f.do("GET", "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then every response carries X-Process-Time", func() {
			w := f.do("GET", "/healthz", "")
			So(w.Header().Get("X-Process-Time"), ShouldNotBeEmpty)
		})
	})

	Convey("Given a failing health check", t, func() {
		f := newFixture()
		f.deps.Health = append(f.deps.Health, api.HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }})
		h := api.NewServer(f.deps).Router()

		Convey("Then /healthz reports degraded with 503", func() {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, "degraded")
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("Given a wrapped kind error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("op", api.ErrNotFound, cause)

		Convey("Then errors.Is sees both the kind and the cause", func() {
			So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "op: not found: boom")
		})

		Convey("Then NewKind and Wrap carry their kinds", func() {
			So(errors.Is(api.NewKind("op", api.ErrBadRequest), api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(api.Wrap("op", cause), api.ErrInternal), ShouldBeTrue)
		})
	})
}
