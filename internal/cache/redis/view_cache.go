package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hivepredict/hivepredict/internal/domain"
)

const viewTTL = 30 * time.Second

// ViewCache implements domain.ViewCache for serialized prediction views.
// All variants of one prediction's view (per viewer, per staker flag) live in
// a single hash so invalidation is one DEL regardless of how many variants
// were cached.
//
// Key schema:
//
//	predict:view:{predictionID} - hash, field = variant, value = JSON view
type ViewCache struct {
	rdb *redis.Client
}

// NewViewCache creates a ViewCache backed by the given Client.
func NewViewCache(c *Client) *ViewCache {
	return &ViewCache{rdb: c.Underlying()}
}

func viewHashKey(predictionID string) string {
	return "predict:view:" + predictionID
}

// splitViewKey separates a domain.ViewCacheKey into the prediction's hash
// key and the variant field.
func splitViewKey(key string) (hashKey, field string, err error) {
	pid, variant, ok := strings.Cut(key, "|")
	if !ok || pid == "" {
		return "", "", fmt.Errorf("redis: malformed view key %q", key)
	}
	return viewHashKey(pid), variant, nil
}

// Get retrieves a cached view variant. It returns domain.ErrNotFound on a
// miss.
func (vc *ViewCache) Get(ctx context.Context, key string) ([]byte, error) {
	hashKey, field, err := splitViewKey(key)
	if err != nil {
		return nil, err
	}

	data, err := vc.rdb.HGet(ctx, hashKey, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get view %s: %w", key, err)
	}
	return data, nil
}

// Set stores a view variant with the standard short TTL. The TTL refresh
// applies to the whole hash; a hot prediction keeps all its variants warm.
func (vc *ViewCache) Set(ctx context.Context, key string, data []byte) error {
	hashKey, field, err := splitViewKey(key)
	if err != nil {
		return err
	}

	pipe := vc.rdb.TxPipeline()
	pipe.HSet(ctx, hashKey, field, data)
	pipe.Expire(ctx, hashKey, viewTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set view %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached variant of a prediction's view. Called after
// any mutation that changes what a viewer would see: new stake, lock,
// settlement, void.
func (vc *ViewCache) Invalidate(ctx context.Context, predictionID string) error {
	if err := vc.rdb.Del(ctx, viewHashKey(predictionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate view %s: %w", predictionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ViewCache = (*ViewCache)(nil)
