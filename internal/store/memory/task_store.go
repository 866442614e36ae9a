package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/store"
)

// TaskStore keeps tasks in a map guarded by a RWMutex. Every read and write
// copies the task so callers never share memory with the store.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task

	// CreateFn and UpdateFn, when set, replace the default behavior.
	CreateFn func(ctx context.Context, task *domain.Task) error
	UpdateFn func(ctx context.Context, task *domain.Task) error
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*domain.Task)}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, task)
	}
	if err := task.Validate(); err != nil {
		return store.NewStoreError("task", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Update implements store.TaskStore.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return store.ErrTaskNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	matched := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && task.Kind != *filter.Kind {
			continue
		}
		matched = append(matched, task.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.Task{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// Stats implements store.TaskStore.
func (s *TaskStore) Stats(ctx context.Context) (domain.TaskStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.TaskStats
	for _, task := range s.tasks {
		stats.Add(task.Status, 1)
	}
	return stats, nil
}

// FindByStatus implements store.TaskStore.
func (s *TaskStore) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	s.mu.RLock()
	var out []*domain.Task
	for _, task := range s.tasks {
		if task.Status == status {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
