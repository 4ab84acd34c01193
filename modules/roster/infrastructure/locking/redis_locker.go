// Package locking provides the Redis import-lock backend.
package locking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/composables"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the part of *redis.Client the locker needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker holds a token-guarded key for the duration of an import. The
// key expires after TTL so a crashed importer cannot wedge its scope.
type RedisLocker struct {
	client Client
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 100 * time.Millisecond}
}

// NewClient parses a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	return redis.NewClient(opts), nil
}

// Lock waits up to TTL for the key. It gives up with
// services.ErrImportLocked.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis lock %s", key)
		}
		if ok {
			return l.releaser(ctx, key, token), nil
		}
		if time.Now().After(deadline) {
			return nil, services.ErrImportLocked
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *RedisLocker) releaser(ctx context.Context, key, token string) func() {
	logger := composables.UseLogger(ctx)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("roster.import.lock_release_failed")
		}
	}
}
