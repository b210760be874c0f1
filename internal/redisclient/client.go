package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/sync_stock.lua
var syncStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	syncScript    *redis.Script
	releaseScript *redis.Script

	mu     sync.Mutex
	owners map[string]string
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		syncScript:    redis.NewScript(syncStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
		owners:        make(map[string]string),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID string) string {
	return "inventory:" + productID
}

// SyncStock stores the quantity of a product unless a newer version is
// already cached. It reports whether the write was applied.
func (c *Client) SyncStock(ctx context.Context, productID string, quantity int, version int64) (bool, error) {
	result, err := c.syncScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity, version).Result()
	if err != nil {
		return false, fmt.Errorf("sync stock script failed: %w", err)
	}

	applied, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return applied == 1, nil
}

// GetStock retrieves the cached quantity of a product. The bool is false
// when the product has not been mirrored yet.
func (c *Client) GetStock(ctx context.Context, productID string) (int, bool, error) {
	value, err := c.rdb.HGet(ctx, stockKey(productID), "quantity").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	quantity, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached quantity for %s: %w", productID, err)
	}
	return quantity, true, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey returns the value stored under an idempotency key
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// AcquireLock acquires a distributed lock owned by this client
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	c.mu.Lock()
	c.owners[lockKey] = token
	c.mu.Unlock()
	return true, nil
}

// ReleaseLock releases a distributed lock if this client still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	c.mu.Lock()
	token, ok := c.owners[lockKey]
	delete(c.owners, lockKey)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
