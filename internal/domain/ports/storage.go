package ports

import (
	"context"
	"io"
	"time"
)

// PutResult reports what a successful Put wrote.
type PutResult struct {
	SizeBytes int64
}

// HealthStatus is the result of a Probe round trip.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Storage is the common contract over the local filesystem and S3-compatible
// object-store backends. Keys use forward-slash segments, e.g.
// "jobs/<job_id>/<filename>".
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	URLFor(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Probe performs a real put-get-delete round trip against a unique key;
	// a connectivity-only check is not sufficient.
	Probe(ctx context.Context) HealthStatus
}
