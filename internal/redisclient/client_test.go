package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set TEST_REDIS_ADDR)")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.GetClient().Del(context.Background(),
		"inventory:SP-TEST", "idempotency:order:k1", "lock:test-lock").Err())
	return c
}

func TestSyncStockKeepsNewestVersion(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	applied, err := c.SyncStock(ctx, "SP-TEST", 10, 200)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = c.SyncStock(ctx, "SP-TEST", 12, 100)
	require.NoError(t, err)
	assert.False(t, applied)

	q, ok, err := c.GetStock(ctx, "SP-TEST")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, q)

	applied, err = c.SyncStock(ctx, "SP-TEST", 9, 201)
	require.NoError(t, err)
	assert.True(t, applied)

	_, ok, err = c.GetStock(ctx, "SP-MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyKey(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.CheckIdempotencyKey(ctx, "order:k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetIdempotencyKey(ctx, "order:k1", "DH0001", time.Minute))

	id, ok, err := c.CheckIdempotencyKey(ctx, "order:k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "DH0001", id)
}

func TestLockOwnership(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "test-lock"))

	ok, err = c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.ReleaseLock(ctx, "test-lock"))
}
