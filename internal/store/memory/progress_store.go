package memory

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/store"
)

// ProgressStore is an append-only in-memory event log.
type ProgressStore struct {
	mu     sync.RWMutex
	seq    int64
	events map[string][]domain.ProgressEvent

	// AppendFn, when set, replaces the default behavior.
	AppendFn func(ctx context.Context, event *domain.ProgressEvent) error
}

var _ store.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore creates an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{events: make(map[string][]domain.ProgressEvent)}
}

// Append implements store.ProgressStore.
func (s *ProgressStore) Append(ctx context.Context, event *domain.ProgressEvent) error {
	if s.AppendFn != nil {
		return s.AppendFn(ctx, event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event.Seq = s.seq
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events[event.TaskID] = append(s.events[event.TaskID], *event)
	return nil
}

// Recent implements store.ProgressStore.
func (s *ProgressStore) Recent(ctx context.Context, taskID string, limit int) ([]*domain.ProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[taskID]
	if limit <= 0 || limit > len(stored) {
		limit = len(stored)
	}

	out := make([]*domain.ProgressEvent, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		ev := stored[i]
		out = append(out, &ev)
	}
	return out, nil
}

// DeleteByTask implements store.ProgressStore.
func (s *ProgressStore) DeleteByTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, taskID)
	return nil
}

// Count returns the number of events stored for a task.
func (s *ProgressStore) Count(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[taskID])
}
