package audit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// CleanupLock is a Redis-backed Locker so only one replica runs a scheduled
// cleanup at a time. The lock expires on its own after ttl in case a holder
// dies mid-run.
type CleanupLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewCleanupLock creates a cleanup lock on the given key. A zero ttl
// defaults to five minutes.
func NewCleanupLock(client *redis.Client, key string, ttl time.Duration) *CleanupLock {
	if key == "" {
		key = "audittrail:cleanup-lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CleanupLock{client: client, key: key, ttl: ttl}
}

// TryLock attempts a SETNX acquire. The returned release deletes the key;
// losing the race returns ok=false with no error.
func (l *CleanupLock) TryLock(ctx context.Context) (func(), bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	release := func() {
		// Best effort: the ttl reclaims the lock if the delete fails.
		_ = l.client.Del(context.Background(), l.key).Err()
	}
	return release, true, nil
}
