package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/store"
)

// ResultStore keeps results per task in insertion order.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]domain.Result
}

var _ store.ResultStore = (*ResultStore)(nil)

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string][]domain.Result)}
}

// SaveResults implements store.ResultStore.
func (s *ResultStore) SaveResults(ctx context.Context, taskID string, results []*domain.Result) error {
	copied := make([]domain.Result, 0, len(results))
	for _, r := range results {
		c := *r
		c.TaskID = taskID
		copied = append(copied, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = copied
	return nil
}

// ListResults implements store.ResultStore.
func (s *ResultStore) ListResults(ctx context.Context, filter store.ResultFilter) ([]*domain.Result, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	stored := s.results[filter.TaskID]
	out := make([]*domain.Result, 0, len(stored))
	for i := range stored {
		if filter.SelectedOnly && !stored[i].Selected {
			continue
		}
		r := stored[i]
		out = append(out, &r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Ranked() != b.Ranked() {
			return a.Ranked()
		}
		return a.Rank < b.Rank
	})

	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteByTask implements store.ResultStore.
func (s *ResultStore) DeleteByTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, taskID)
	return nil
}
