package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

func change(owner string, before, after int) Event {
	ev := Event{OwnerID: owner, At: time.Now()}
	if before > 0 {
		ev.Before = &model.LiveRecord{OwnerID: owner, LatestSample: &model.HeartbeatSample{BPM: before}}
	}
	if after > 0 {
		ev.After = &model.LiveRecord{OwnerID: owner, LatestSample: &model.HeartbeatSample{BPM: after}}
	}
	return ev
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, change("owner1", 0, 72)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	event := <-q.Dequeue(ctx)
	if event.OwnerID != "owner1" || event.After.BPM() != 72 {
		t.Errorf("unexpected event %+v", event)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if err := q.Publish(ctx, change("a", 0, 60)); err != nil {
		t.Fatalf("expected publish to succeed, got %v", err)
	}
	if err := q.Publish(ctx, change("b", 0, 61)); err != nil {
		t.Fatalf("expected publish to succeed, got %v", err)
	}

	if err := q.Publish(ctx, change("c", 0, 62)); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if q.Enqueue(ctx, change("c", 0, 62)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	numProducers := 10
	numEvents := 100

	var consumed sync.WaitGroup
	consumed.Add(numProducers * numEvents)
	for i := 0; i < 4; i++ {
		go func() {
			for range q.Dequeue(ctx) {
				consumed.Done()
			}
		}()
	}

	var produced sync.WaitGroup
	for i := 0; i < numProducers; i++ {
		produced.Add(1)
		go func(id int) {
			defer produced.Done()
			for j := 0; j < numEvents; j++ {
				for !q.Enqueue(ctx, change(fmt.Sprintf("owner%d", id), j, j+1)) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	produced.Wait()

	done := make(chan struct{})
	go func() {
		consumed.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumers did not drain the queue")
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, change("a", 0, 70)) {
		t.Error("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Publish(ctx, change("b", 0, 71)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// queued events drain before the channel closes
	ch := q.Dequeue(ctx)
	timeout := time.After(time.Second)
	var got []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if len(got) != 1 || got[0].OwnerID != "a" {
					t.Errorf("expected the queued event before close, got %+v", got)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}
