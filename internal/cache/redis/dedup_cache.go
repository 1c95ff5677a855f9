package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DedupCache implements domain.DedupCache using SETNX with a TTL. It lets
// overlapping resolver poll cycles skip requests that were just handled; the
// store-level fulfilled flag remains the correctness guard when this cache is
// cold or unavailable.
//
// Key schema:
//
//	dedup:request:{id} - string "1" with TTL
type DedupCache struct {
	rdb *redis.Client
}

// NewDedupCache creates a DedupCache backed by the given Client.
func NewDedupCache(c *Client) *DedupCache {
	return &DedupCache{rdb: c.Underlying()}
}

func dedupKey(requestID string) string { return "dedup:request:" + requestID }

// MarkProcessed records the request ID with a TTL. It returns true when this
// call set the mark and false when it was already present.
func (dc *DedupCache) MarkProcessed(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	ok, err := dc.rdb.SetNX(ctx, dedupKey(requestID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark request %s processed: %w", requestID, err)
	}
	return ok, nil
}

// IsProcessed reports whether the request ID was recently marked.
func (dc *DedupCache) IsProcessed(ctx context.Context, requestID string) (bool, error) {
	err := dc.rdb.Get(ctx, dedupKey(requestID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis: check request %s processed: %w", requestID, err)
	}
	return true, nil
}

// Compile-time interface check.
var _ domain.DedupCache = (*DedupCache)(nil)
