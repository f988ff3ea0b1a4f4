package gojob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

var ErrQueueClosed = errors.New("gojob: queue closed")

// MemoryQueue is an in-process queue for a single daemon. Messages sharing
// an idempotency key are dropped while one is pending. Requeued deliveries
// come back after their delay with the attempt counter advanced.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []*memoryDelivery
	keys        map[string]struct{}
	deadLetters []*job.ExecutionMessage
	timers      map[*time.Timer]struct{}
	closed      bool
	signal      chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys:   map[string]struct{}{},
		timers: map[*time.Timer]struct{}{},
		signal: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if _, ok := q.keys[key]; ok {
			return nil
		}
		q.keys[key] = struct{}{}
	}
	q.push(&memoryDelivery{queue: q, msg: msg, attempt: 1})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			next := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return next, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Pending reports deliveries waiting to be dequeued.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns the messages settled as dead letters.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

// Close stops delayed requeues and wakes blocked consumers.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	close(q.signal)
}

func (q *MemoryQueue) push(d *memoryDelivery) {
	q.pending = append(q.pending, d)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) settle(d *memoryDelivery) {
	if key := strings.TrimSpace(d.msg.IdempotencyKey); key != "" {
		delete(q.keys, key)
	}
}

func (q *MemoryQueue) requeue(d *memoryDelivery, delay time.Duration) {
	next := &memoryDelivery{queue: q, msg: d.msg, attempt: d.attempt + 1}
	if delay <= 0 {
		q.push(next)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		delete(q.timers, timer)
		q.push(next)
	})
	q.timers[timer] = struct{}{}
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	attempt int
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

// Attempt is 1 for the first delivery of a message.
func (d *memoryDelivery) Attempt() int { return d.attempt }

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	d.queue.settle(d)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	switch {
	case opts.DeadLetter:
		q.settle(d)
		q.deadLetters = append(q.deadLetters, d.msg)
	case opts.Requeue && !q.closed:
		q.requeue(d, opts.Delay)
	default:
		q.settle(d)
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
