package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"crosschain-transfer/pkg/logger"
)

// MemoryPublisher 在内存中缓存事件，主要用于测试。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemoryPublisher 创建 MemoryPublisher。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 实现 Publisher 接口。
func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("事件发布器已关闭")
	}
	m.events = append(m.events, Stamp(event))
	return nil
}

// Events 返回已发布事件的副本。
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close 实现 Publisher 接口。
func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// LogPublisher 将事件写入结构化日志。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 创建 LogPublisher，log 为空时使用 events 命名日志。
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = logger.Named("events")
	}
	return &LogPublisher{logger: log}
}

// Publish 实现 Publisher 接口。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	event = Stamp(event)
	level := slog.LevelInfo
	if event.Type == TypeTransferFailed {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "转账事件",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("request_id", event.RequestID),
		slog.String("destination", event.DestinationChain),
		slog.String("method", event.Method),
		slog.String("source", event.SourceChain),
		slog.String("tx_hash", event.TxHash),
		slog.String("error_code", event.ErrorCode),
	)
	return nil
}

// Close 实现 Publisher 接口。
func (p *LogPublisher) Close() error { return nil }
