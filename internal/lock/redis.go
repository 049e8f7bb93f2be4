package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance pointed at the same server.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedis(rdb *redis.Client, prefix string, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, log: log}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock: redis lock %q needs a ttl", key)
	}
	k := r.prefix + key
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %q: %w", k, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must run even when the caller's ctx is already done
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.rdb, []string{k}, token).Err(); err != nil {
				r.log.Warn("failed to release lock", "key", k, "error", err)
			}
		})
	}, nil
}

var _ Locker = (*Redis)(nil)
