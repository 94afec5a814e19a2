package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 在内存中保存流水，用于测试和未配置数据库的部署。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return ErrConflict
	}
	now := m.now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	entry.Status = StatusSucceeded
	entry.Result = &result
	entry.ErrorCode = ""
	entry.ErrorMessage = ""
	entry.FailedChain = ""
	entry.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 记录失败原因。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, failure Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	entry.Status = StatusFailed
	entry.Result = nil
	entry.ErrorCode = failure.Code
	entry.ErrorMessage = failure.Message
	entry.FailedChain = failure.Chain
	entry.UpdatedAt = m.now().Unix()
	return nil
}

// Get 返回指定记录的副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(entry), nil
}

// List 按创建时间返回记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Entry, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if matchesStatus(entry, opts.Statuses) {
			results = append(results, cloneEntry(entry))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CreatedAt == b.CreatedAt {
			if opts.Order == SortByCreatedAsc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if opts.Order == SortByCreatedAsc {
			return a.CreatedAt < b.CreatedAt
		}
		return a.CreatedAt > b.CreatedAt
	})

	if opts.Offset >= len(results) {
		return []*Entry{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func matchesStatus(entry *Entry, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, status := range statuses {
		if entry.Status == status {
			return true
		}
	}
	return false
}
