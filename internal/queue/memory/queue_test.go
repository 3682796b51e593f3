package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain/ports"
)

func TestEnqueueReserveAck(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))

	lease, ok, err := q.Reserve(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ports.Payload{JobID: "job-1"}, lease.Payload)

	require.NoError(t, q.Ack(context.Background(), lease))
	require.Equal(t, int64(0), depth(t, q))
}

func TestReserveWithNothingReadyReturnsFalse(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, ok, err := q.Reserve(ctx, time.Minute)
	require.Error(t, err) // context deadline fires before the 5s block window
	require.False(t, ok)
}

func TestNackRequeuesAfterDelay(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))
	lease, ok, err := q.Reserve(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Nack(context.Background(), lease, 30*time.Millisecond))
	require.Equal(t, int64(0), depth(t, q), "not yet visible")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int64(1), depth(t, q))
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))
	_, ok, err := q.Reserve(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), depth(t, q), "expired lease should become ready again")
}

func TestProbeIsHealthy(t *testing.T) {
	q := New()
	require.Equal(t, ports.HealthHealthy, q.Probe(context.Background()))
}

func depth(t *testing.T, q *Queue) int64 {
	t.Helper()
	n, err := q.Depth(context.Background())
	require.NoError(t, err)
	return n
}
