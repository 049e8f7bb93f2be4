package lock

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisTryLock(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	l := NewRedis(rdb, "bookhold:test:"+time.Now().Format("150405.000")+":", slog.Default())

	release, err := l.TryLock(ctx, "reaper", 5*time.Second)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "reaper", 5*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	release()
	again, err := l.TryLock(ctx, "reaper", 5*time.Second)
	require.NoError(t, err)
	again()
}

func TestRedisRequiresTTL(t *testing.T) {
	l := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", slog.Default())
	_, err := l.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)
}
