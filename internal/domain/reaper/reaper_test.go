package reaper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pulse/internal/adapters/heartbeat"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/reaper"
	"github.com/okian/pulse/pkg/logger"
)

type flakyStore struct {
	*heartbeat.MemoryStore
	failDelete string
	failList   bool
}

func (f *flakyStore) List(ctx context.Context) ([]*model.LiveRecord, error) {
	if f.failList {
		return nil, errors.New("scan failed")
	}
	return f.MemoryStore.List(ctx)
}

func (f *flakyStore) DeleteIfStale(ctx context.Context, ownerID string, cutoff time.Time) (bool, error) {
	if ownerID == f.failDelete {
		return false, errors.New("delete failed")
	}
	return f.MemoryStore.DeleteIfStale(ctx, ownerID, cutoff)
}

// racingStore lands a fresh sample for the listed owners right after the scan.
type racingStore struct {
	*heartbeat.MemoryStore
	refresh []string
	at      time.Time
}

func (r *racingStore) List(ctx context.Context) ([]*model.LiveRecord, error) {
	snapshot, err := r.MemoryStore.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, owner := range r.refresh {
		if _, err := r.MemoryStore.Write(ctx, owner, model.HeartbeatSample{BPM: 88, CapturedAt: r.at}, true); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func (l *recordingLogger) Info(_ context.Context, msg string, _ ...logger.Field)  { l.add(msg) }
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...logger.Field) { l.add(msg) }
func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...logger.Field) { l.add(msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...logger.Field)  { l.add(msg) }
func (l *recordingLogger) Fatal(_ context.Context, msg string, _ ...logger.Field) { l.add(msg) }
func (l *recordingLogger) Named(string) logger.Logger                             { return l }
func (l *recordingLogger) With(...logger.Field) logger.Logger                     { return l }

func TestReaperSweep(t *testing.T) {
	Convey("Given live records of different ages and a 1h retention", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
		mem := heartbeat.NewMemoryStore(heartbeat.WithClock(func() time.Time { return now }))
		store := &flakyStore{MemoryStore: mem}

		write := func(owner string, age time.Duration) {
			_, err := mem.Write(ctx, owner, model.HeartbeatSample{BPM: 70, CapturedAt: now.Add(-age)}, true)
			So(err, ShouldBeNil)
		}
		write("fresh", 10*time.Minute)
		write("boundary", time.Hour)
		write("stale", 2*time.Hour)
		write("ancient", 48*time.Hour)

		So(mem.AppendNotification(ctx, model.NotificationRecord{ID: "old", OwnerID: "stale", SentAt: now.Add(-3 * time.Hour)}), ShouldBeNil)
		So(mem.AppendNotification(ctx, model.NotificationRecord{ID: "new", OwnerID: "fresh", SentAt: now.Add(-time.Minute)}), ShouldBeNil)

		r := reaper.New(store, reaper.WithRetention(time.Hour), reaper.WithClock(func() time.Time { return now }))

		Convey("When the sweep runs", func() {
			res, err := r.Sweep(ctx)
			So(err, ShouldBeNil)

			Convey("Then only records older than retention should be deleted", func() {
				So(res.Scanned, ShouldEqual, 4)
				So(res.Deleted, ShouldEqual, 2)
				left, _ := mem.List(ctx)
				ids := []string{}
				for _, rec := range left {
					ids = append(ids, rec.OwnerID)
				}
				So(ids, ShouldResemble, []string{"boundary", "fresh"})
			})

			Convey("Then expired notification records should be pruned", func() {
				So(res.Notifications, ShouldEqual, 1)
				recs, _ := mem.Notifications(ctx, "fresh")
				So(len(recs), ShouldEqual, 1)
			})
		})

		Convey("When one delete fails", func() {
			store.failDelete = "stale"
			res, err := r.Sweep(ctx)

			Convey("Then the sweep should continue past it", func() {
				So(err, ShouldBeNil)
				So(res.Failed, ShouldEqual, 1)
				So(res.Deleted, ShouldEqual, 1)
				_, err := mem.Read(ctx, "ancient")
				So(errors.Is(err, heartbeat.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the scan fails", func() {
			store.failList = true
			_, err := r.Sweep(ctx)

			Convey("Then the sweep should report it", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a record has no sample", func() {
			old := now.Add(-5 * time.Hour)
			bare := heartbeat.NewMemoryStore(heartbeat.WithClock(func() time.Time { return old }))
			_, err := bare.Write(ctx, "x", model.HeartbeatSample{BPM: 60}, true)
			So(err, ShouldBeNil)
			res, err := reaper.New(bare, reaper.WithClock(func() time.Time { return now })).Sweep(ctx)

			Convey("Then its update time should decide", func() {
				So(err, ShouldBeNil)
				So(res.Deleted, ShouldEqual, 1)
			})
		})

		Convey("When a stale record is refreshed between the scan and the delete", func() {
			racing := &racingStore{MemoryStore: mem, refresh: []string{"stale"}, at: now}
			res, err := reaper.New(racing, reaper.WithRetention(time.Hour), reaper.WithClock(func() time.Time { return now })).Sweep(ctx)

			Convey("Then the refreshed record should survive", func() {
				So(err, ShouldBeNil)
				So(res.Deleted, ShouldEqual, 1)
				So(res.Refreshed, ShouldEqual, 1)
				got, err := mem.Read(ctx, "stale")
				So(err, ShouldBeNil)
				So(got.BPM(), ShouldEqual, 88)
				_, err = mem.Read(ctx, "ancient")
				So(errors.Is(err, heartbeat.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a logger is supplied", func() {
			log := &recordingLogger{}
			_, err := reaper.New(store, reaper.WithLogger(log), reaper.WithClock(func() time.Time { return now })).Sweep(ctx)

			Convey("Then the sweep should log through it", func() {
				So(err, ShouldBeNil)
				So(log.messages(), ShouldContain, "sweep finished")
			})
		})
	})
}
