package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"confianza-backend/internal/config"
)

// EvidenceQueue coordinates ready, in-flight, and scheduled evidence jobs in
// Redis. Members are evidence row ids; the rows themselves live in Postgres.
type EvidenceQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewEvidenceQueue builds a queue client from config.
func NewEvidenceQueue(cfg config.Config) *EvidenceQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewEvidenceQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewEvidenceQueueWithClient wires an existing Redis client, used by tests.
func NewEvidenceQueueWithClient(client *redis.Client, visibility time.Duration) *EvidenceQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &EvidenceQueue{
		client:        client,
		readyKey:      "evidence:ready",
		inflightKey:   "evidence:inflight",
		scheduledKey:  "evidence:scheduled",
		dlqKey:        "evidence:dlq",
		visibilityTTL: visibility,
	}
}

// Enqueue makes an evidence job available for processing immediately.
func (q *EvidenceQueue) Enqueue(ctx context.Context, evidenceID string) error {
	return q.client.RPush(ctx, q.readyKey, evidenceID).Err()
}

// Schedule defers an evidence job until runAt, used for retry backoff.
func (q *EvidenceQueue) Schedule(ctx context.Context, evidenceID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: evidenceID,
	}).Err()
}

// PromoteScheduled moves due scheduled jobs into the ready queue and returns
// how many were promoted.
func (q *EvidenceQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a ready job and places it into the in-flight set with
// a visibility deadline. Empty string means nothing is ready.
func (q *EvidenceQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return id, nil
}

// Ack removes a job from in-flight tracking.
func (q *EvidenceQueue) Ack(ctx context.Context, evidenceID string) error {
	return q.client.ZRem(ctx, q.inflightKey, evidenceID).Err()
}

// RequeueExpired reclaims leases whose visibility deadline passed and makes
// them ready again.
func (q *EvidenceQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends an exhausted job for operational inspection.
func (q *EvidenceQueue) DLQPush(ctx context.Context, evidenceID string) error {
	return q.client.RPush(ctx, q.dlqKey, evidenceID).Err()
}

// DLQPeek reads dead-lettered evidence ids.
func (q *EvidenceQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready queue.
func (q *EvidenceQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
