package notify

import (
	"context"
	"sync"
	"time"

	"github.com/finditapp/findit-server/observability"
)

const (
	defaultQueueCapacity = 1024
	defaultQueueTTL      = 15 * time.Minute
)

type queuedMessage struct {
	msg        Message
	enqueuedAt time.Time
}

// QueueOption adjusts the behaviour of the queue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// WithQueueCapacity sets the maximum number of pending notifications.
func WithQueueCapacity(capacity int) QueueOption {
	return func(cfg *queueConfig) {
		if capacity > 0 {
			cfg.capacity = capacity
		}
	}
}

// WithQueueTTL configures how long queued messages remain eligible for delivery.
func WithQueueTTL(ttl time.Duration) QueueOption {
	return func(cfg *queueConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// withQueueClock overrides the clock used for TTL evaluation (test only).
func withQueueClock(now func() time.Time) QueueOption {
	return func(cfg *queueConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Queue buffers notifications ahead of delivery. Delivery is best-effort:
// when the buffer fills the oldest entry is dropped and counted, never the
// caller blocked, since notification loss must not fail a payment.
type Queue struct {
	mu      sync.Mutex
	ring    ring[queuedMessage]
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.QueueMetrics
}

// NewQueue constructs a bounded queue with optional customisation.
func NewQueue(opts ...QueueOption) *Queue {
	cfg := queueConfig{
		capacity: defaultQueueCapacity,
		ttl:      defaultQueueTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue{
		ring:    newRing[queuedMessage](cfg.capacity),
		ttl:     cfg.ttl,
		now:     cfg.now,
		metrics: observability.Queue(),
	}
}

// Enqueue adds a message to the queue.
func (q *Queue) Enqueue(msg Message) {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(now)
	if _, overwrote := q.ring.push(queuedMessage{msg: msg, enqueuedAt: now}); overwrote {
		q.metrics.RecordDropped("overflow", 1)
	}
}

// Len reports how many messages are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(q.now())
	return q.ring.len()
}

// Dequeue waits for the next message. Returns false if the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		q.evictExpiredLocked(q.now())
		queued, ok := q.ring.pop()
		q.mu.Unlock()
		if !ok {
			select {
			case <-ctx.Done():
				return Message{}, false
			case <-time.After(25 * time.Millisecond):
				continue
			}
		}
		if q.ttl > 0 && q.now().Sub(queued.enqueuedAt) > q.ttl {
			q.metrics.RecordDropped("ttl", 1)
			continue
		}
		return queued.msg, true
	}
}

func (q *Queue) evictExpiredLocked(now time.Time) {
	if q.ttl <= 0 {
		return
	}
	expired := 0
	for {
		queued, ok := q.ring.peek()
		if !ok || now.Sub(queued.enqueuedAt) <= q.ttl {
			break
		}
		q.ring.pop()
		expired++
	}
	if expired > 0 {
		q.metrics.RecordDropped("ttl", expired)
	}
}

// ring is a fixed-size buffer that overwrites the oldest element on overflow.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) ring[T] {
	if capacity <= 0 {
		return ring[T]{}
	}
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) (T, bool) {
	if len(r.buf) == 0 {
		var zero T
		return zero, true
	}
	if r.size == len(r.buf) {
		dropped := r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return dropped, true
	}
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = v
	r.size++
	var zero T
	return zero, false
}

func (r *ring[T]) pop() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *ring[T]) peek() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *ring[T]) len() int {
	return r.size
}
