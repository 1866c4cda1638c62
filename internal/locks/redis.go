package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paymentsys/txnengine/internal/models"
)

// RedisLocker provides per-key mutual exclusion across instances using a
// SetNX lease with a TTL, so a crashed holder cannot wedge a transaction
// forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("txn_lock:%s", key)
	ok, err := l.client.SetNX(ctx, lockKey, "1", l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLocked, key)
	}
	release := func() {
		l.client.Del(context.Background(), lockKey)
	}
	return release, nil
}
