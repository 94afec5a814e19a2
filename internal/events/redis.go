package events

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	xerrors "crosschain-transfer/internal/errors"
)

type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *goredis.StatusCmd
}

// RedisConfig 描述 Redis 事件列表。
type RedisConfig struct {
	List string
	// MaxLen 大于零时保留最新的 MaxLen 条事件。
	MaxLen int64
}

// RedisPublisher 将 JSON 事件 LPUSH 到 Redis list，消费者可使用 BRPOP 读取。
type RedisPublisher struct {
	client listClient
	list   string
	maxLen int64
}

// NewRedisPublisher 使用已建立的客户端创建发布器。
func NewRedisPublisher(client listClient, cfg RedisConfig) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	list := cfg.List
	if list == "" {
		list = "transferd:events"
	}
	return &RedisPublisher{client: client, list: list, maxLen: cfg.MaxLen}, nil
}

// Publish 实现 Publisher 接口。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := p.client.LPush(ctx, p.list, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布事件失败")
	}
	if p.maxLen > 0 {
		if err := p.client.LTrim(ctx, p.list, 0, p.maxLen-1).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "裁剪 Redis 事件列表失败")
		}
	}
	return nil
}

// Close 不关闭共享的 Redis 客户端。
func (p *RedisPublisher) Close() error { return nil }
