package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const headerIdempotencyKey = "Idempotency-Key"

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid applying the same board mutation twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the client may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// once runs fn at most once per Idempotency-Key and caller. Replays are
// answered with 409. The key is released again when fn does not succeed.
func once(c echo.Context, dedup Deduper, userID string, fn func() error) error {
	key := c.Request().Header.Get(headerIdempotencyKey)
	if dedup == nil || key == "" {
		return fn()
	}
	ctx := c.Request().Context()
	added, err := dedup.Add(ctx, userID, key)
	if err != nil {
		c.Logger().Errorf("deduper add failed: %v", err)
		return c.String(http.StatusInternalServerError, "failed to record idempotency key")
	}
	if !added {
		return c.String(http.StatusConflict, "duplicate request")
	}
	err = fn()
	if err != nil || c.Response().Status >= http.StatusBadRequest {
		if rmErr := dedup.Remove(context.WithoutCancel(ctx), userID, key); rmErr != nil {
			c.Logger().Errorf("deduper remove failed: %v", rmErr)
		}
	}
	return err
}
