package store

import (
	"context"
	"sync"

	"github.com/tslm9/logostamp/internal/domain"
)

type MemoryUsageStore struct {
	mu      sync.RWMutex
	entries []domain.BatchLog
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) CreateBatchLog(_ context.Context, entry domain.BatchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryUsageStore) BatchLogs() []domain.BatchLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BatchLog, len(s.entries))
	copy(out, s.entries)
	return out
}
