package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain/ports"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "test"), server
}

func TestRedisEnqueueReserveAck(t *testing.T) {
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))

	lease, ok, err := q.Reserve(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ports.Payload{JobID: "job-1"}, lease.Payload)

	require.NoError(t, q.Ack(context.Background(), lease))

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestRedisEnqueueWithDelayIsNotImmediatelyReady(t *testing.T) {
	q, server := newTestQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, time.Hour))

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), depth, "delayed entries sit in the sorted set, not the waiting list")

	// promoteReady reads the process clock, which miniredis cannot move, so
	// the entry is made due by rewriting its score.
	raw, err := encodePayload(ports.Payload{JobID: "job-1"})
	require.NoError(t, err)
	_, err = server.ZAdd(q.delayedKey(), 0, raw)
	require.NoError(t, err)

	require.NoError(t, q.promoteReady(context.Background()))
	depth, err = q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestRedisNackRequeuesAfterDelay(t *testing.T) {
	q, server := newTestQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))
	lease, ok, err := q.Reserve(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Nack(context.Background(), lease, time.Hour))

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)

	raw, err := encodePayload(lease.Payload)
	require.NoError(t, err)
	_, err = server.ZAdd(q.delayedKey(), 0, raw)
	require.NoError(t, err)
	require.NoError(t, q.promoteReady(context.Background()))
	depth, err = q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestRedisExpiredLeaseIsRedelivered(t *testing.T) {
	q, server := newTestQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), ports.Payload{JobID: "job-1"}, 0))
	lease, ok, err := q.Reserve(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = server.ZAdd(q.inflightKey(), 0, lease.ID)
	require.NoError(t, err)

	require.NoError(t, q.promoteReady(context.Background()))
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestRedisDeadLetterAppendsEntry(t *testing.T) {
	q, server := newTestQueue(t)
	require.NoError(t, q.DeadLetter(context.Background(), ports.Payload{JobID: "job-1"}, "exhausted retries"))

	length, err := server.Llen(q.deadKey())
	require.NoError(t, err)
	require.Equal(t, 1, length)
}

func TestRedisProbeReflectsConnectivity(t *testing.T) {
	q, server := newTestQueue(t)
	require.Equal(t, ports.HealthHealthy, q.Probe(context.Background()))

	server.Close()
	require.Equal(t, ports.HealthUnhealthy, q.Probe(context.Background()))
}
