// Package redis is the Redis-backed broker implementation of the Queue +
// Dispatcher (waiting list + pipelines + sorted sets), generalized from
// user-exclusive job slots to lease/visibility-timeout at-least-once
// delivery.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
)

// defaultKeyPrefix namespaces every Redis key the broker touches when New is
// given an empty prefix.
const defaultKeyPrefix = "mediafetch"

type Queue struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, keyPrefix string) *Queue {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Queue{client: client, prefix: keyPrefix}
}

func (q *Queue) waitingKey() string  { return fmt.Sprintf("%s:waiting", q.prefix) }
func (q *Queue) delayedKey() string  { return fmt.Sprintf("%s:delayed", q.prefix) }
func (q *Queue) inflightKey() string { return fmt.Sprintf("%s:inflight", q.prefix) }
func (q *Queue) deadKey() string     { return fmt.Sprintf("%s:dead", q.prefix) }
func (q *Queue) leaseKey(leaseID string) string {
	return fmt.Sprintf("%s:lease:%s", q.prefix, leaseID)
}

type payloadJSON struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
}

func encodePayload(p ports.Payload) (string, error) {
	buf, err := json.Marshal(payloadJSON{JobID: string(p.JobID), Attempt: p.Attempt})
	return string(buf), err
}

func decodePayload(raw string) (ports.Payload, error) {
	var p payloadJSON
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ports.Payload{}, err
	}
	return ports.Payload{JobID: domain.JobID(p.JobID), Attempt: p.Attempt}, nil
}

// Enqueue places payload on the waiting list immediately, or on the delayed
// sorted set (promoted by Reserve) when delay > 0.
func (q *Queue) Enqueue(ctx context.Context, payload ports.Payload, delay time.Duration) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return domain.Wrap(domain.ErrInternalKind, "encode payload", err)
	}

	if delay <= 0 {
		if err := q.client.LPush(ctx, q.waitingKey(), raw).Err(); err != nil {
			return domain.Wrap(domain.ErrStorageUnavailable, "enqueue", err)
		}
		return nil
	}

	readyAt := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "enqueue delayed", err)
	}
	return nil
}

// promoteReady moves delayed entries whose ready time has elapsed, and
// expired-visibility inflight leases, back onto the waiting list.
func (q *Queue) promoteReady(ctx context.Context) error {
	now := float64(time.Now().Unix())

	ready, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return err
	}
	if len(ready) > 0 {
		pipe := q.client.Pipeline()
		for _, raw := range ready {
			pipe.LPush(ctx, q.waitingKey(), raw)
			pipe.ZRem(ctx, q.delayedKey(), raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}

	expiredLeases, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return err
	}
	for _, leaseID := range expiredLeases {
		raw, err := q.client.Get(ctx, q.leaseKey(leaseID)).Result()
		if err != nil {
			if err == redis.Nil {
				q.client.ZRem(ctx, q.inflightKey(), leaseID)
				continue
			}
			return err
		}
		pipe := q.client.Pipeline()
		pipe.LPush(ctx, q.waitingKey(), raw)
		pipe.ZRem(ctx, q.inflightKey(), leaseID)
		pipe.Del(ctx, q.leaseKey(leaseID))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

const blockTimeout = 5 * time.Second

func (q *Queue) Reserve(ctx context.Context, visibility time.Duration) (ports.Lease, bool, error) {
	if err := q.promoteReady(ctx); err != nil {
		return ports.Lease{}, false, domain.Wrap(domain.ErrStorageUnavailable, "promote ready", err)
	}

	result, err := q.client.BRPop(ctx, blockTimeout, q.waitingKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return ports.Lease{}, false, nil
		}
		return ports.Lease{}, false, domain.Wrap(domain.ErrStorageUnavailable, "reserve", err)
	}
	if len(result) < 2 {
		return ports.Lease{}, false, domain.NewError(domain.ErrInternalKind, "malformed brpop result")
	}
	raw := result[1]

	leaseID := uuid.NewString()
	visibleUntil := float64(time.Now().Add(visibility).Unix())

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.leaseKey(leaseID), raw, visibility+time.Minute)
	pipe.ZAdd(ctx, q.inflightKey(), redis.Z{Score: visibleUntil, Member: leaseID})
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.Lease{}, false, domain.Wrap(domain.ErrStorageUnavailable, "record lease", err)
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return ports.Lease{}, false, domain.Wrap(domain.ErrInternalKind, "decode payload", err)
	}
	return ports.Lease{ID: leaseID, Payload: payload}, true, nil
}

func (q *Queue) Ack(ctx context.Context, lease ports.Lease) error {
	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, q.inflightKey(), lease.ID)
	pipe.Del(ctx, q.leaseKey(lease.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "ack", err)
	}
	return nil
}

func (q *Queue) Nack(ctx context.Context, lease ports.Lease, requeueDelay time.Duration) error {
	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, q.inflightKey(), lease.ID)
	pipe.Del(ctx, q.leaseKey(lease.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "nack cleanup", err)
	}
	return q.Enqueue(ctx, lease.Payload, requeueDelay)
}

func (q *Queue) Probe(ctx context.Context) ports.HealthStatus {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return ports.HealthUnhealthy
	}
	return ports.HealthHealthy
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.waitingKey()).Result()
	if err != nil {
		return 0, domain.Wrap(domain.ErrStorageUnavailable, "queue depth", err)
	}
	return n, nil
}

func (q *Queue) DeadLetter(ctx context.Context, payload ports.Payload, reason string) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return domain.Wrap(domain.ErrInternalKind, "encode payload", err)
	}
	entry := fmt.Sprintf(`{"payload":%s,"reason":%q,"at":%d}`, raw, reason, time.Now().Unix())
	if err := q.client.LPush(ctx, q.deadKey(), entry).Err(); err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "dead letter", err)
	}
	return nil
}
