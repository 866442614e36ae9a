package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
	"github.com/phrazzld/signal-api/internal/store"
)

// psql builds statements with PostgreSQL placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const taskColumns = `id, kind, status, priority, created_at, updated_at, started_at, completed_at,
	params, weights, filters, total, completed, current_phase, current_item, progress,
	success_count, failed_count, error_message, retry_count, final_recommendations,
	execution_seconds, summary`

// PostgresTaskStore implements store.TaskStore on the tasks table.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgreSQL task store.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// taskDocuments holds the JSONB encoded columns of a task.
type taskDocuments struct {
	params, weights, filters, summary []byte
}

func encodeTaskDocuments(task *domain.Task) (taskDocuments, error) {
	var (
		docs taskDocuments
		err  error
	)
	if docs.params, err = json.Marshal(task.Params); err != nil {
		return docs, fmt.Errorf("failed to encode task params: %w", err)
	}
	if docs.weights, err = json.Marshal(task.Weights); err != nil {
		return docs, fmt.Errorf("failed to encode task weights: %w", err)
	}
	if docs.filters, err = json.Marshal(task.Filters); err != nil {
		return docs, fmt.Errorf("failed to encode task filters: %w", err)
	}
	if docs.summary, err = json.Marshal(task.Summary); err != nil {
		return docs, fmt.Errorf("failed to encode task summary: %w", err)
	}
	return docs, nil
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	docs, err := encodeTaskDocuments(task)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23)`

	_, err = s.db.ExecContext(ctx, query,
		task.ID, string(task.Kind), string(task.Status), task.Priority,
		task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		docs.params, docs.weights, docs.filters,
		task.Total, task.Completed, task.CurrentPhase, task.CurrentItem, task.Progress,
		task.SuccessCount, task.FailedCount, task.ErrorMessage, task.RetryCount,
		task.FinalRecommendations, task.ExecutionSeconds, docs.summary,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
		}
		log.Error("failed to insert task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create task: %w", MapError(err))
	}

	log.Debug("task created", slog.String("task_id", task.ID), slog.String("kind", string(task.Kind)))
	return nil
}

// Update implements store.TaskStore.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	docs, err := encodeTaskDocuments(task)
	if err != nil {
		return err
	}

	query := `UPDATE tasks SET
			status = $2, priority = $3, updated_at = $4, started_at = $5, completed_at = $6,
			params = $7, weights = $8, filters = $9, total = $10, completed = $11,
			current_phase = $12, current_item = $13, progress = $14,
			success_count = $15, failed_count = $16, error_message = $17, retry_count = $18,
			final_recommendations = $19, execution_seconds = $20, summary = $21
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		task.ID, string(task.Status), task.Priority, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		docs.params, docs.weights, docs.filters, task.Total, task.Completed,
		task.CurrentPhase, task.CurrentItem, task.Progress,
		task.SuccessCount, task.FailedCount, task.ErrorMessage, task.RetryCount,
		task.FinalRecommendations, task.ExecutionSeconds, docs.summary,
	)
	if err != nil {
		log.Error("failed to update task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update task: %w", MapError(err))
	}

	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// GetByID implements store.TaskStore.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContext(ctx).Error("failed to get task",
			slog.String("task_id", id),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return task, nil
}

func applyTaskFilter(b sq.SelectBuilder, filter store.TaskFilter) sq.SelectBuilder {
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.Kind != nil {
		b = b.Where(sq.Eq{"kind": string(*filter.Kind)})
	}
	return b
}

// List implements store.TaskStore.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	log := logger.FromContext(ctx)
	filter = filter.Normalize()

	countQuery, countArgs, err := applyTaskFilter(psql.Select("COUNT(*)").From("tasks"), filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build task count query: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		log.Error("failed to count tasks", slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}

	query, args, err := applyTaskFilter(psql.Select(taskColumns).From("tasks"), filter).
		OrderBy("created_at DESC", "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build task list query: %w", err)
	}

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", err.Error()))
		return nil, 0, err
	}
	return tasks, total, nil
}

// Stats implements store.TaskStore.
func (s *PostgresTaskStore) Stats(ctx context.Context) (domain.TaskStats, error) {
	var stats domain.TaskStats

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		logger.FromContext(ctx).Error("failed to count tasks by status", slog.String("error", err.Error()))
		return stats, fmt.Errorf("failed to get task stats: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan task stats: %w", err)
		}
		stats.Add(domain.TaskStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to read task stats: %w", MapError(err))
	}
	return stats, nil
}

// FindByStatus implements store.TaskStore.
func (s *PostgresTaskStore) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at, id`

	tasks, err := s.queryTasks(ctx, query, string(status))
	if err != nil {
		logger.FromContext(ctx).Error("failed to find tasks by status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", MapError(err))
	}
	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                  domain.Task
		kind, status          string
		startedAt, completeAt sql.NullTime
		errorMessage          sql.NullString
		executionSeconds      sql.NullFloat64
		docs                  taskDocuments
	)

	err := row.Scan(
		&task.ID, &kind, &status, &task.Priority,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completeAt,
		&docs.params, &docs.weights, &docs.filters,
		&task.Total, &task.Completed, &task.CurrentPhase, &task.CurrentItem, &task.Progress,
		&task.SuccessCount, &task.FailedCount, &errorMessage, &task.RetryCount,
		&task.FinalRecommendations, &executionSeconds, &docs.summary,
	)
	if err != nil {
		return nil, err
	}

	task.Kind = domain.TaskKind(kind)
	task.Status = domain.TaskStatus(status)
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if completeAt.Valid {
		t := completeAt.Time.UTC()
		task.CompletedAt = &t
	}
	if errorMessage.Valid {
		task.ErrorMessage = &errorMessage.String
	}
	if executionSeconds.Valid {
		task.ExecutionSeconds = &executionSeconds.Float64
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()

	for _, doc := range []struct {
		name string
		data []byte
		into any
	}{
		{"params", docs.params, &task.Params},
		{"weights", docs.weights, &task.Weights},
		{"filters", docs.filters, &task.Filters},
		{"summary", docs.summary, &task.Summary},
	} {
		if len(doc.data) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.data, doc.into); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", doc.name, err)
		}
	}

	return &task, nil
}
