package timeline

import (
	"context"
	"sync"
	"time"

	"pocket-companion/server/internal/model"
)

// InMemoryStore 是一个基于内存的对话历史实现。
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	seq     map[string]int64
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]Entry),
		seq:     make(map[string]int64),
		now:     time.Now,
	}
}

// Append 追加一条历史，并为该 session 分配单调递增 seq。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, turn model.ChatTurn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[sessionID]++
	seq := s.seq[sessionID]
	s.entries[sessionID] = append(s.entries[sessionID], Entry{Seq: seq, ChatTurn: turn, At: s.now()})
	return seq, nil
}

// List 返回某个 session 的全部历史（按 seq 顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Suffix 返回最近 n 条历史；n <= 0 返回空。
func (s *InMemoryStore) Suffix(_ context.Context, sessionID string, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil, nil
	}
	entries := s.entries[sessionID]
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Reset 丢弃旧历史并以 turns 重建；seq 继续递增，不回退。
func (s *InMemoryStore) Reset(_ context.Context, sessionID string, turns []model.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(turns))
	for _, turn := range turns {
		s.seq[sessionID]++
		entries = append(entries, Entry{Seq: s.seq[sessionID], ChatTurn: turn, At: s.now()})
	}
	s.entries[sessionID] = entries
	return nil
}
