package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id int64) (Market, error)
	Invalidate(ctx context.Context, id int64) error
}

// DedupCache marks resolution request IDs as recently processed so that
// overlapping poll cycles skip them cheaply. This is an optimization only;
// the store-level fulfilled flag remains the correctness guard.
type DedupCache interface {
	// MarkProcessed records the request ID with a TTL. It returns true when
	// this call set the mark and false when it was already present.
	MarkProcessed(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, requestID string) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. The state machine publishes
// every verified transition here so observers (dashboard, caches) are
// notified explicitly instead of relying on polling intervals alone.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
