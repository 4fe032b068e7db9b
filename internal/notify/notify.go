// Package notify hands resolution side effects (outbound emails, digests) to
// the external delivery collaborator. Dispatch is fire-and-forget and
// idempotent: a duplicated resolution never enqueues the same message twice.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/billwise/billwise/backend/internal/store"
)

// Message is one outbound notification.
type Message struct {
	UserID  string
	Subject string
	Body    string
}

// Queue is implemented by the delivery collaborator.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// NoopQueue discards messages; used when delivery is not configured.
type NoopQueue struct{}

func (NoopQueue) Enqueue(ctx context.Context, msg Message) error { return nil }

// Dispatcher guards the queue with an idempotency key so retried or
// duplicate resolutions do not trigger duplicate sends. Failures are logged,
// never returned.
type Dispatcher struct {
	queue Queue
	cache store.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. ttl is how long a claimed key blocks
// duplicates.
func NewDispatcher(queue Queue, cache store.Cache, ttl time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, cache: cache, ttl: ttl, log: log}
}

// Dispatch enqueues msg once per idempotency key.
func (d *Dispatcher) Dispatch(ctx context.Context, idempotencyKey string, msg Message) {
	created, err := d.cache.SetIfAbsent(ctx, idempotencyKey, d.ttl)
	if err != nil {
		d.log.Warn().Err(err).Str("key_prefix", keyPrefix(idempotencyKey)).
			Msg("idempotency check failed, skipping notification")
		return
	}
	if !created {
		d.log.Debug().Str("key_prefix", keyPrefix(idempotencyKey)).
			Msg("duplicate resolution, notification suppressed")
		return
	}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		d.log.Warn().Err(err).Str("user_id", msg.UserID).
			Msg("notification enqueue failed")
	}
}

// keyPrefix is the log-safe prefix of an idempotency key.
func keyPrefix(key string) string {
	if len(key) < 16 {
		return key
	}
	return key[:16] + "..."
}
