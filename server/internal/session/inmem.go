package session

import (
	"context"
	"sync"

	"pocket-companion/server/internal/model"
)

// InMemoryStore 是一个基于内存的存档实现。
type InMemoryStore struct {
	mu     sync.RWMutex
	record *model.PersistenceRecord
	saves  int
}

func NewInMemoryStore() *InMemoryStore {
	// 重启即丢数据，适合测试与临时试玩。
	return &InMemoryStore{}
}

// Load 返回存档副本，没有存档时返回 ErrNoRecord。
func (s *InMemoryStore) Load(_ context.Context) (*model.PersistenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.record == nil {
		return nil, ErrNoRecord
	}
	return cloneRecord(s.record), nil
}

// Save 保存或覆盖存档。
func (s *InMemoryStore) Save(_ context.Context, rec *model.PersistenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = cloneRecord(rec)
	s.saves++
	return nil
}

// Saves 返回累计写入次数，测试用。
func (s *InMemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func cloneRecord(rec *model.PersistenceRecord) *model.PersistenceRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.ChatHistory = append([]model.ChatTurn(nil), rec.ChatHistory...)
	if rec.Schedule != nil {
		sched := cloneSchedule(*rec.Schedule)
		out.Schedule = &sched
	}
	return &out
}

func cloneSchedule(s model.Schedule) model.Schedule {
	if s.Sleep != nil {
		sleep := *s.Sleep
		s.Sleep = &sleep
	}
	s.Routine = append([]model.RoutineEntry(nil), s.Routine...)
	s.HomeActivities = append([]string(nil), s.HomeActivities...)
	return s
}
