package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
	"github.com/phrazzld/signal-api/internal/store"
)

// PostgresProgressStore keeps the progress log in the task_progress table.
// The BIGSERIAL key doubles as the event sequence number.
type PostgresProgressStore struct {
	db store.DBTX
}

// NewPostgresProgressStore creates a new PostgreSQL progress store.
func NewPostgresProgressStore(db store.DBTX) *PostgresProgressStore {
	return &PostgresProgressStore{db: db}
}

var _ store.ProgressStore = (*PostgresProgressStore)(nil)

// Append implements store.ProgressStore.
func (s *PostgresProgressStore) Append(ctx context.Context, event *domain.ProgressEvent) error {
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	query := `INSERT INTO task_progress (task_id, kind, item, phase, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		event.TaskID, string(event.Kind), event.Item, event.Phase, payload, event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		logger.FromContext(ctx).Error("failed to append progress event",
			slog.String("task_id", event.TaskID),
			slog.String("event_type", string(event.Kind)),
			slog.String("error", err.Error()))
		return store.NewStoreError("progress", "append", "insert failed", MapError(err))
	}
	return nil
}

// Recent implements store.ProgressStore.
func (s *PostgresProgressStore) Recent(ctx context.Context, taskID string, limit int) ([]*domain.ProgressEvent, error) {
	b := psql.Select("seq", "task_id", "kind", "item", "phase", "payload", "created_at").
		From("task_progress").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("seq DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build progress query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to read progress events",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("progress", "recent", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var events []*domain.ProgressEvent
	for rows.Next() {
		var (
			e       domain.ProgressEvent
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &e.TaskID, &kind, &e.Item, &e.Phase, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		if len(payload) > 0 {
			e.Payload = payload
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("progress", "recent", "query failed", MapError(err))
	}
	return events, nil
}

// DeleteByTask implements store.ProgressStore.
func (s *PostgresProgressStore) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_progress WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to delete progress events: %w", MapError(err))
	}
	return nil
}
