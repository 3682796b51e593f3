// Package memory is a timer-heap Queue implementation for single-process
// deployments and tests (QUEUE_BACKEND=memory).
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediafetch/internal/domain/ports"
)

type delayedItem struct {
	readyAt time.Time
	payload ports.Payload
	index   int
}

type delayedHeap []*delayedItem

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayedHeap) Push(x interface{}) {
	item := x.(*delayedItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type inflightEntry struct {
	lease        ports.Lease
	visibleUntil time.Time
}

// Queue is a mutex-guarded timer-heap Queue.
type Queue struct {
	mu       sync.Mutex
	delayed  delayedHeap
	ready    []ports.Payload
	inflight map[string]inflightEntry
}

func New() *Queue {
	return &Queue{inflight: make(map[string]inflightEntry)}
}

func (q *Queue) Enqueue(_ context.Context, payload ports.Payload, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay <= 0 {
		q.ready = append(q.ready, payload)
	} else {
		heap.Push(&q.delayed, &delayedItem{readyAt: time.Now().Add(delay), payload: payload})
	}
	return nil
}

// promoteLocked moves due delayed items and expired leases onto ready.
// Caller must hold q.mu.
func (q *Queue) promoteLocked() {
	now := time.Now()
	for q.delayed.Len() > 0 && !q.delayed[0].readyAt.After(now) {
		item := heap.Pop(&q.delayed).(*delayedItem)
		q.ready = append(q.ready, item.payload)
	}
	for id, entry := range q.inflight {
		if !entry.visibleUntil.After(now) {
			q.ready = append(q.ready, entry.lease.Payload)
			delete(q.inflight, id)
		}
	}
}

// blockTimeout mirrors the Redis broker's BRPOP wait: Reserve polls for this
// long for a ready payload before returning empty.
const blockTimeout = 5 * time.Second

const pollInterval = 25 * time.Millisecond

func (q *Queue) Reserve(ctx context.Context, visibility time.Duration) (ports.Lease, bool, error) {
	deadline := time.Now().Add(blockTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if lease, ok := q.tryReserve(visibility); ok {
			return lease, true, nil
		}
		if time.Now().After(deadline) {
			return ports.Lease{}, false, nil
		}
		select {
		case <-ctx.Done():
			return ports.Lease{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryReserve(visibility time.Duration) (ports.Lease, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked()
	if len(q.ready) == 0 {
		return ports.Lease{}, false
	}

	payload := q.ready[0]
	q.ready = q.ready[1:]

	lease := ports.Lease{ID: uuid.NewString(), Payload: payload}
	q.inflight[lease.ID] = inflightEntry{lease: lease, visibleUntil: time.Now().Add(visibility)}
	return lease, true
}

func (q *Queue) Ack(_ context.Context, lease ports.Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, lease.ID)
	return nil
}

func (q *Queue) Nack(ctx context.Context, lease ports.Lease, requeueDelay time.Duration) error {
	q.mu.Lock()
	delete(q.inflight, lease.ID)
	q.mu.Unlock()
	return q.Enqueue(ctx, lease.Payload, requeueDelay)
}

func (q *Queue) DeadLetter(_ context.Context, _ ports.Payload, _ string) error {
	return nil
}

func (q *Queue) Probe(_ context.Context) ports.HealthStatus {
	return ports.HealthHealthy
}

func (q *Queue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteLocked()
	return int64(len(q.ready)), nil
}
