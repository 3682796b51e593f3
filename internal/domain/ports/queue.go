package ports

import (
	"context"
	"time"

	"mediafetch/internal/domain"
)

// Payload is the unit of work moved through the Queue+Dispatcher.
type Payload struct {
	JobID   domain.JobID
	Attempt int
}

// Lease is a reservation on a Payload, valid until the visibility timer
// expires unless Acked or Nacked first.
type Lease struct {
	ID      string
	Payload Payload
}

// Queue is the at-least-once delivery contract. Implementations: an
// in-memory timer-heap (single process) and a Redis-backed broker.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload, delay time.Duration) error

	// Reserve waits for a payload to become visible for at most the
	// implementation's fixed block window (5s in both implementations) or
	// until ctx is done, whichever comes first. It returns ok=false with a
	// nil error when the window passes with nothing reserved, and an error
	// when ctx ends first.
	Reserve(ctx context.Context, visibility time.Duration) (Lease, bool, error)

	Ack(ctx context.Context, lease Lease) error
	Nack(ctx context.Context, lease Lease, requeueDelay time.Duration) error
	DeadLetter(ctx context.Context, payload Payload, reason string) error

	// Probe confirms the queue backend is reachable, for the operator
	// health check.
	Probe(ctx context.Context) HealthStatus

	// Depth reports the approximate number of payloads waiting to be
	// reserved, for the queue_depth gauge.
	Depth(ctx context.Context) (int64, error)
}
