package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	_ interfaces.Locker = (*RedisLocker)(nil)
	_ interfaces.Locker = (*MemoryLocker)(nil)
)

// releaseScript удаляет ключ, только если в нем все еще наш токен.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - блокировка по ключу через SET NX PX, общая для всех реплик.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, logger: logger.Named("RedisLocker")}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire lock", zap.String("key", fullKey), zap.Error(err))
		return nil, fmt.Errorf("redis lock '%s': %w", fullKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLockNotAcquired, key)
	}

	l.logger.Debug("Lock acquired", zap.String("key", fullKey), zap.Duration("ttl", ttl))
	return func(ctx context.Context) error {
		res, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis unlock '%s': %w", fullKey, err)
		}
		if res == 0 {
			l.logger.Warn("Lock expired before release", zap.String("key", fullKey))
		}
		return nil
	}, nil
}

// MemoryLocker - блокировка в пределах одного процесса.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	clock func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryLock{}, clock: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, fmt.Errorf("%w: %s", models.ErrLockNotAcquired, key)
	}
	token := uuid.NewString()
	l.held[key] = memoryLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
