package history

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// defaultListLimit 是 ListRecent 未指定上限时的默认条数。
const defaultListLimit = 50

// MemoryStore 把留痕保存在内存里，适合开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	// cap 限制内存中保留的留痕条数，零表示不限。
	cap int
}

// MemoryOption 定义 MemoryStore 的可选配置。
type MemoryOption func(*MemoryStore)

// WithCapacity 限制内存留痕的最大条数，超出后淘汰最旧的。
func WithCapacity(capacity int) MemoryOption {
	return func(s *MemoryStore) {
		if capacity > 0 {
			s.cap = capacity
		}
	}
}

// NewMemoryStore 创建内存留痕存储。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Append 实现 Store。
func (s *MemoryStore) Append(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	if s.cap > 0 && len(s.records) > s.cap {
		overflow := len(s.records) - s.cap
		s.records = append([]Record(nil), s.records[overflow:]...)
	}
	return nil
}

// ListRecent 实现 Store。
func (s *MemoryStore) ListRecent(_ context.Context, agentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if agentID != "" && s.records[i].AgentID != agentID {
			continue
		}
		out = append(out, s.records[i])
	}
	return out, nil
}

// Close 实现 Store，内存实现无资源可释放。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
