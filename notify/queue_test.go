package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func msgWithTitle(title string) Message {
	return Message{RecipientID: uuid.New(), Type: TypeBountyFunded, Title: title}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(WithQueueCapacity(8))
	for i := 0; i < 3; i++ {
		q.Enqueue(msgWithTitle(fmt.Sprintf("msg-%d", i)))
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for i := 0; i < 3; i++ {
		msg, ok := q.Dequeue(context.Background())
		if !ok {
			t.Fatalf("dequeue #%d returned no message", i)
		}
		if want := fmt.Sprintf("msg-%d", i); msg.Title != want {
			t.Fatalf("dequeue #%d = %q, want %q", i, msg.Title, want)
		}
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	q := NewQueue(WithQueueCapacity(2))
	q.Enqueue(msgWithTitle("first"))
	q.Enqueue(msgWithTitle("second"))
	q.Enqueue(msgWithTitle("third"))

	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	msg, _ := q.Dequeue(context.Background())
	if msg.Title != "second" {
		t.Fatalf("head = %q, want second (first dropped)", msg.Title)
	}
}

func TestQueueTTLEviction(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	q := NewQueue(WithQueueCapacity(8), WithQueueTTL(time.Minute), withQueueClock(now))

	q.Enqueue(msgWithTitle("stale"))
	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	q.Enqueue(msgWithTitle("fresh"))

	msg, ok := q.Dequeue(context.Background())
	if !ok {
		t.Fatal("expected the fresh message")
	}
	if msg.Title != "fresh" {
		t.Fatalf("got %q, want fresh (stale evicted)", msg.Title)
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d after drain, want 0", q.Len())
	}
}

func TestDequeueStopsOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.Dequeue(ctx); ok {
			t.Error("dequeue returned a message from an empty queue")
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not return after cancellation")
	}
}

func TestDequeueWaitsForEnqueue(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Enqueue(msgWithTitle("late"))
	}()
	msg, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("expected the late message before the deadline")
	}
	if msg.Title != "late" {
		t.Fatalf("got %q, want late", msg.Title)
	}
}
