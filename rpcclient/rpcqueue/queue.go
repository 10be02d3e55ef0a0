// Package rpcqueue schedules RPC work with priority ordering, a shared
// rate limit, and bounded concurrency, generalizing the teacher's
// container/heap-based request queue to arbitrary typed work items.
package rpcqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Priority mirrors the teacher's scheme: lower numeric value dequeues
// first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
)

// Request is one unit of scheduled RPC work. Do performs the call and
// returns its error; the queue retries it with exponential backoff on
// failure up to MaxAttempts times before resolving Done with the final
// error.
type Request struct {
	Priority    Priority
	CreatedAt   time.Time
	MaxAttempts int
	Do          func(ctx context.Context) error
	done        chan error
}

type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x any)   { *h = append(*h, x.(*Request)) }
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Config controls the queue's throughput.
type Config struct {
	// RatePerSecond caps sustained request throughput; Burst allows
	// short spikes above it. Zero RatePerSecond disables limiting.
	RatePerSecond float64
	Burst         int
	// Workers caps requests executed concurrently.
	Workers int
	Logger  *zap.Logger
}

const (
	retryBase          = 250 * time.Millisecond
	retryCapShift      = 5 // 2^5 × base is the backoff ceiling
	defaultMaxAttempts = 6
)

// Queue runs a pool of worker goroutines pulling from a priority heap,
// each request retried with exponential backoff (base 250ms, capped at
// 2^5 × base) before its error is returned to the caller — the same
// retry schedule spec.md §4.6 specifies for the realtime driver's polling
// tick, reused here so historical fan-out shares one failure policy.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   requestHeap
	closed  bool
	limiter *rate.Limiter
	logger  *zap.Logger

	wg sync.WaitGroup
}

func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	q := &Queue{limiter: limiter, logger: logger}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues req and returns a channel that receives its final
// error (nil on success) once a worker has run it to completion or
// exhausted its retries.
func (q *Queue) Submit(req Request) <-chan error {
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = defaultMaxAttempts
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.done = make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		ch := make(chan error, 1)
		ch <- fmt.Errorf("rpcqueue: queue is closed")
		return ch
	}
	heap.Push(&q.items, &req)
	q.mu.Unlock()
	q.cond.Signal()
	return req.done
}

// Do submits req and blocks until it completes, returning its error.
func (q *Queue) Do(ctx context.Context, req Request) error {
	done := q.Submit(req)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		req := q.dequeue()
		if req == nil {
			return
		}
		req.done <- q.run(req)
	}
}

func (q *Queue) dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Request)
}

func (q *Queue) run(req *Request) error {
	ctx := context.Background()
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rpcqueue: rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < req.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := BackoffFor(attempt)
			q.logger.Debug("retrying rpc request", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
		}
		lastErr = req.Do(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("rpcqueue: request failed after %d attempts: %w", req.MaxAttempts, lastErr)
}

// BackoffFor computes the retry delay for a given attempt count, shared
// with other components (e.g. the realtime driver's tick retry) that need
// the same exponential-backoff-with-cap schedule.
func BackoffFor(attempt int) time.Duration {
	shift := attempt
	if shift > retryCapShift {
		shift = retryCapShift
	}
	return retryBase * time.Duration(uint64(1)<<uint(shift))
}

// Close stops accepting new requests and waits for in-flight workers to
// drain their current item; queued-but-not-started requests resolve with
// an error.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := make([]*Request, q.items.Len())
	copy(pending, q.items)
	q.items = q.items[:0]
	q.mu.Unlock()

	q.cond.Broadcast()
	for _, r := range pending {
		r.done <- fmt.Errorf("rpcqueue: queue closed")
	}
	q.wg.Wait()
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
