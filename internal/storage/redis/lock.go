package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/pkg/logger"
)

// 仅当值仍为本次持有者的令牌时才删除，避免误删过期后被他人获取的锁。
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// lockClient 是锁实现依赖的 Redis 命令子集。
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// LockConfig 控制分布式锁的行为。
type LockConfig struct {
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

// Locker 使用 SET NX PX 实现跨进程的提交锁。
type Locker struct {
	client lockClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewLocker 基于已有客户端创建锁。
func NewLocker(client lockClient, cfg LockConfig) *Locker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "transferd:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, poll: poll}
}

// Lock 轮询获取锁直到成功或 ctx 结束。TTL 到期后锁自动释放，
// 因此持有时间不应超过 TTL。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "获取 Redis 提交锁失败",
				xerrors.WithMetadata("key", fullKey))
		}
		if ok {
			return l.releaser(fullKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, ctx.Err(), "等待 Redis 提交锁超时",
				xerrors.WithMetadata("key", fullKey))
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		logger.L().Warn("释放 Redis 提交锁失败", slog.String("key", key), slog.Any("error", err))
	}
}
