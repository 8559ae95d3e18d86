package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pulse/internal/adapters/profile"
	"github.com/okian/pulse/internal/adapters/push"
	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/types"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []push.Message
	tokens   [][]string
}

func (r *recordingSender) SendMulticast(_ context.Context, tokens []string, msg push.Message) (push.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.tokens = append(r.tokens, append([]string(nil), tokens...))
	return push.Result{Succeeded: len(tokens)}, nil
}

func (r *recordingSender) sent() []push.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Message(nil), r.messages...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 64
	cfg.IngestRateLimit = 1000
	cfg.IngestRateBurst = 1000
	return cfg
}

func seededProfiles() *profile.MemoryStore {
	p := profile.NewMemoryStore()
	p.PutOwner("owner-1", "Ada")
	p.Follow(model.FollowerSubscription{FollowerID: "f-1", OwnerID: "owner-1", PushToken: "tok-1", NotificationEnabled: true})
	p.Follow(model.FollowerSubscription{FollowerID: "f-2", OwnerID: "owner-1", PushToken: "tok-2", NotificationEnabled: true})
	p.Follow(model.FollowerSubscription{FollowerID: "f-3", OwnerID: "owner-1", PushToken: "tok-3", NotificationEnabled: false})
	now := time.Now()
	p.SetScore("owner-1", 40, now)
	p.SetScore("owner-2", 90, now)
	p.SetScore("owner-3", 90, now)
	return p
}

func post(h http.Handler, owner string, bpm int) int {
	env := model.NewValueEnvelope(model.HeartbeatSample{OwnerID: owner, BPM: bpm, CapturedAt: time.Now()})
	b, _ := json.Marshal(env)
	req := httptest.NewRequest(http.MethodPost, "/v1/heartbeats", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return w
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service on in-memory backends", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig(),
			service.WithProfileStore(seededProfiles()),
			service.WithPushSender(&recordingSender{}),
		)

		Convey("Before Start, one-shot operations report ErrNotStarted", func() {
			_, err := svc.SyncRankings(ctx)
			So(err, ShouldEqual, service.ErrNotStarted)
			_, err = svc.Reap(ctx)
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then Start is idempotent", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("Then stats describe the wiring", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["liveStore"], ShouldEqual, config.BackendMemory)
				So(stats["rankedOwners"], ShouldEqual, 3)
				So(stats, ShouldContainKey, "nextReap")
			})

			Convey("Then the initial sync serves the leaderboard", func() {
				w := get(svc.Handler(), "/v1/leaderboard?limit=2")
				So(w.Code, ShouldEqual, http.StatusOK)
				var board types.Leaderboard
				So(json.Unmarshal(w.Body.Bytes(), &board), ShouldBeNil)
				So(len(board.Entries), ShouldEqual, 2)
				So(board.Entries[0].OwnerID, ShouldEqual, "owner-2")
				So(board.Entries[1].OwnerID, ShouldEqual, "owner-3")
				So(board.Entries[1].Rank, ShouldEqual, 2)
			})

			Convey("Then a manual sync and a reap succeed", func() {
				res, err := svc.SyncRankings(ctx)
				So(err, ShouldBeNil)
				So(res.Entries, ShouldEqual, 3)

				swept, err := svc.Reap(ctx)
				So(err, ShouldBeNil)
				So(swept.Deleted, ShouldEqual, 0)
			})

			Convey("Then health is reported ok", func() {
				So(get(svc.Handler(), "/healthz").Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldBeFalse)
		})
	})
}

func TestServiceNotificationFlow(t *testing.T) {
	Convey("Given a running service with a short cooldown", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.CooldownWindow = 300 * time.Millisecond
		sender := &recordingSender{}
		svc := service.New(cfg,
			service.WithProfileStore(seededProfiles()),
			service.WithPushSender(sender),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		h := svc.Handler()

		Convey("When 72, then 75 inside the cooldown, then 80 after it are ingested", func() {
			So(post(h, "owner-1", 72), ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return len(sender.sent()) == 1 }), ShouldBeTrue)

			So(post(h, "owner-1", 75), ShouldEqual, http.StatusAccepted)
			time.Sleep(50 * time.Millisecond)
			So(len(sender.sent()), ShouldEqual, 1)

			time.Sleep(cfg.CooldownWindow)
			So(post(h, "owner-1", 80), ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return len(sender.sent()) == 2 }), ShouldBeTrue)

			Convey("Then only enabled followers got the 72 and 80 notifications", func() {
				msgs := sender.sent()
				So(msgs[0].Data["bpm"], ShouldEqual, "72")
				So(msgs[1].Data["bpm"], ShouldEqual, "80")
				So(msgs[1].Title, ShouldEqual, "Ada")
				sender.mu.Lock()
				So(sender.tokens[0], ShouldResemble, []string{"tok-1", "tok-2"})
				sender.mu.Unlock()
			})

			Convey("Then the live view holds the latest reading", func() {
				w := get(h, "/v1/heartbeats/owner-1")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"bpm":80`)
			})

			Convey("Then both notifications are recorded for the owner", func() {
				So(eventually(func() bool {
					recs, err := svc.LiveStore().Notifications(ctx, "owner-1")
					return err == nil && len(recs) == 2
				}), ShouldBeTrue)
			})
		})
	})
}

func TestServiceWithoutBackgroundJobs(t *testing.T) {
	Convey("Given a service started for a one-shot command", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig(),
			service.WithProfileStore(seededProfiles()),
			service.WithPushSender(&recordingSender{}),
			service.WithBackgroundJobs(false),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Then nothing is scheduled and nothing is synced yet", func() {
			stats := svc.GetStats()
			So(stats, ShouldNotContainKey, "nextReap")
			So(stats, ShouldNotContainKey, "lastRankingSync")
		})

		Convey("When rankings are synced explicitly", func() {
			res, err := svc.SyncRankings(ctx)

			Convey("Then the sync result is returned", func() {
				So(err, ShouldBeNil)
				So(res.Entries, ShouldEqual, 3)
				So(svc.GetStats()["rankedOwners"], ShouldEqual, 3)
			})
		})
	})
}
