// Package lock serializes transaction submission per chain so that concurrent
// requests sharing one signing account never race on nonces.
package lock

import (
	"context"
	"sync"

	xerrors "crosschain-transfer/internal/errors"
)

// Locker 按键获取互斥锁，返回的释放函数必须且只能调用一次。
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Local 是进程内按键加锁的实现，等待期间响应 ctx 取消。
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal 创建进程内锁。
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

// Lock 获取 key 对应的锁。
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, ctx.Err(), "等待提交锁超时",
			xerrors.WithMetadata("key", key))
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}
