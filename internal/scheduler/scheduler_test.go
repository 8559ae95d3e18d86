package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler", t, func() {
		s := New(nil)

		Convey("When a job has an invalid spec", func() {
			err := s.Add("bad", "every tuesday", func(context.Context) error { return nil })

			Convey("Then Add fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the same name is added twice", func() {
			So(s.Add("reap", "0 3 * * *", func(context.Context) error { return nil }), ShouldBeNil)
			err := s.Add("reap", "0 4 * * *", func(context.Context) error { return nil })

			Convey("Then the second Add fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a daily job is started", func() {
			So(s.Add("reap", "0 3 * * *", func(context.Context) error { return nil }), ShouldBeNil)
			s.Start(context.Background())
			defer func() { _ = s.Stop(context.Background()) }()

			Convey("Then its next run is at 03:00 UTC", func() {
				next := s.Next("reap")
				So(next.IsZero(), ShouldBeFalse)
				So(next.UTC().Hour(), ShouldEqual, 3)
				So(next.UTC().Minute(), ShouldEqual, 0)
				So(s.Next("missing").IsZero(), ShouldBeTrue)
			})
		})

		Convey("When a job is run on demand", func() {
			var runs atomic.Int32
			boom := errors.New("boom")
			So(s.Add("sync", "55 * * * *", func(context.Context) error {
				runs.Add(1)
				return boom
			}), ShouldBeNil)

			err := s.RunNow(context.Background(), "sync")

			Convey("Then it runs synchronously and returns the job error", func() {
				So(err, ShouldEqual, boom)
				So(runs.Load(), ShouldEqual, int32(1))
				So(errors.Is(s.RunNow(context.Background(), "nope"), ErrUnknownJob), ShouldBeTrue)
			})
		})

		Convey("When a job is due every second", func() {
			var runs atomic.Int32
			So(s.Add("tick", "@every 1s", func(context.Context) error {
				runs.Add(1)
				return nil
			}), ShouldBeNil)
			s.Start(context.Background())

			deadline := time.Now().Add(3 * time.Second)
			for runs.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}

			Convey("Then it fires and Stop waits for it", func() {
				So(runs.Load(), ShouldBeGreaterThan, 0)
				So(s.Stop(context.Background()), ShouldBeNil)
			})
		})

		Convey("When Stop is called while a job is running", func() {
			started := make(chan struct{})
			var once sync.Once
			var cancelled atomic.Bool
			So(s.Add("slow", "@every 1s", func(ctx context.Context) error {
				once.Do(func() { close(started) })
				select {
				case <-ctx.Done():
					cancelled.Store(true)
					return ctx.Err()
				case <-time.After(10 * time.Second):
					return nil
				}
			}), ShouldBeNil)
			s.Start(context.Background())

			select {
			case <-started:
			case <-time.After(3 * time.Second):
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := s.Stop(stopCtx)

			Convey("Then the job sees its context cancelled and Stop returns promptly", func() {
				So(err, ShouldBeNil)
				So(cancelled.Load(), ShouldBeTrue)
			})
		})
	})
}
