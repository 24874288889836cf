package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// DefaultMemoryCapacity is the journal size used when no database is set.
const DefaultMemoryCapacity = 4096

// MemoryStore is a bounded in-process journal, oldest entries dropped first.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	events   []*models.EventLog
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// BeginTx returns the store itself; writes are applied immediately.
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) {
	return s, nil
}

func (s *MemoryStore) Commit() error {
	return nil
}

func (s *MemoryStore) Rollback() error {
	return nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event == nil {
		return ErrInvalidData
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.capacity {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, event)
	return nil
}

// ListEventLogs returns matching events newest first.
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.EventLog
	for i := len(s.events) - 1; i >= 0; i-- {
		if filters.match(s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}
