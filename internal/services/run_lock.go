package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RunLocker 同类批处理互斥
type RunLocker interface {
	// Acquire 获取锁，已被占用时返回 InvalidStateError
	Acquire(ctx context.Context, operation string) (release func(), err error)
}

type noopLocker struct{}

// NoopLocker 不做互斥（未配置 Redis 时使用）
func NoopLocker() RunLocker {
	return noopLocker{}
}

func (noopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, operation string) (func(), error) {
	key := l.prefix + operation
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, NewDependencyUnavailable("acquire run lock", err)
	}
	if !ok {
		return nil, NewInvalidStateError("another run of this operation is in progress", map[string]any{"operation": operation})
	}
	release := func() {
		// 调用方的 ctx 可能已取消，释放使用独立超时
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warnf("failed to release run lock %s: %v", key, err)
		}
	}
	return release, nil
}
