package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
	"github.com/phrazzld/signal-api/internal/store"
	"github.com/redis/go-redis/v9"
)

// ProgressStore keeps each task's events in a Redis list. Sequence numbers
// come from a single counter so they increase across tasks exactly as the
// Postgres BIGSERIAL does.
type ProgressStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore creates a progress store. A zero ttl keeps events forever.
func NewProgressStore(client *redis.Client, prefix string, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *ProgressStore) seqKey() string {
	return s.prefix + "progress:seq"
}

func (s *ProgressStore) listKey(taskID string) string {
	return s.prefix + "progress:" + taskID
}

// Append implements store.ProgressStore.
func (s *ProgressStore) Append(ctx context.Context, event *domain.ProgressEvent) error {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		logger.FromContext(ctx).Error("failed to allocate progress sequence",
			slog.String("task_id", event.TaskID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to allocate progress sequence: %w", err)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Seq = seq

	data, err := json.Marshal(event)
	if err != nil {
		event.Seq = 0
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	key := s.listKey(event.TaskID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		event.Seq = 0
		logger.FromContext(ctx).Error("failed to append progress event",
			slog.String("task_id", event.TaskID),
			slog.String("event_type", string(event.Kind)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to append progress event: %w", err)
	}
	return nil
}

// Recent implements store.ProgressStore.
func (s *ProgressStore) Recent(ctx context.Context, taskID string, limit int) ([]*domain.ProgressEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, s.listKey(taskID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress events: %w", err)
	}

	events := make([]*domain.ProgressEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e domain.ProgressEvent
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, fmt.Errorf("failed to decode progress event: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}

// DeleteByTask implements store.ProgressStore.
func (s *ProgressStore) DeleteByTask(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.listKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete progress events: %w", err)
	}
	return nil
}
