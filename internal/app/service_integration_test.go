package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/types"
)

func TestServiceOnRedis(t *testing.T) {
	Convey("Given a service whose live store and rank cache live in Redis", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = client.Close() }()

		cfg := testConfig()
		cfg.LiveStore = config.BackendRedis
		cfg.RankCache = config.BackendRedis
		cfg.RedisKeyPrefix = "it"
		sender := &recordingSender{}
		svc := service.New(cfg,
			service.WithRedisClient(client),
			service.WithProfileStore(seededProfiles()),
			service.WithPushSender(sender),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		h := svc.Handler()

		Convey("When a reading is ingested", func() {
			So(post(h, "owner-1", 72), ShouldEqual, http.StatusAccepted)

			Convey("Then followers are notified and the record is in Redis", func() {
				So(eventually(func() bool { return len(sender.sent()) == 1 }), ShouldBeTrue)
				rec, err := svc.LiveStore().Read(ctx, "owner-1")
				So(err, ShouldBeNil)
				So(rec.BPM(), ShouldEqual, 72)
				So(rec.LastNotificationSentAt, ShouldNotBeNil)
			})
		})

		Convey("When the leaderboard is read", func() {
			w := get(h, "/v1/leaderboard")
			var board types.Leaderboard
			So(json.Unmarshal(w.Body.Bytes(), &board), ShouldBeNil)

			Convey("Then it comes from the Redis sorted set", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(board.Entries), ShouldEqual, 3)
				So(board.Stale, ShouldBeFalse)
				So(mr.Exists("it:rank"), ShouldBeTrue)
			})
		})

		Convey("When Redis goes away after the board was cached", func() {
			So(get(h, "/v1/leaderboard?limit=3").Code, ShouldEqual, http.StatusOK)
			mr.SetError("LOADING redis is loading")

			Convey("Then health fails but the cached board is still served", func() {
				So(get(h, "/healthz").Code, ShouldEqual, http.StatusServiceUnavailable)
				w := get(h, "/v1/leaderboard?limit=2")
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When the reaper runs with a fresh record present", func() {
			So(post(h, "owner-1", 72), ShouldEqual, http.StatusAccepted)
			res, err := svc.Reap(ctx)

			Convey("Then the record survives the sweep", func() {
				So(err, ShouldBeNil)
				So(res.Scanned, ShouldEqual, 1)
				So(res.Deleted, ShouldEqual, 0)
			})
		})
	})
}
