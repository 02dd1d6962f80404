// Package dedup remembers processed webhook deliveries so replays can be
// acknowledged without re-applying the payment update. The update itself is
// an idempotent overwrite, so losing these keys is harmless.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookDedup tracks (payment id, status) pairs in Redis with a TTL.
type WebhookDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a dedup tracker. A zero ttl defaults to 24h.
func New(client *redis.Client, ttl time.Duration) *WebhookDedup {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &WebhookDedup{client: client, ttl: ttl}
}

// Seen reports whether an identical delivery (same payment id and status)
// was already processed inside the TTL window. It is read-only: a delivery
// counts as processed only once Mark records it, so a delivery whose
// persistence write failed is re-applied on redelivery.
func (d *WebhookDedup) Seen(ctx context.Context, paymentID, status string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(paymentID, status)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records a delivery as processed. Callers invoke it only after the
// payment update has been committed.
func (d *WebhookDedup) Mark(ctx context.Context, paymentID, status string) error {
	return d.client.Set(ctx, d.key(paymentID, status), 1, d.ttl).Err()
}

func (d *WebhookDedup) key(paymentID, status string) string {
	return fmt.Sprintf("webhook:seen:%s:%s", paymentID, status)
}
