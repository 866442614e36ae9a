package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
	"github.com/phrazzld/signal-api/internal/store"
)

// resultInsertChunk bounds the rows per INSERT to keep the parameter count
// far below PostgreSQL's 65535 limit.
const resultInsertChunk = 200

// PostgresResultStore implements store.ResultStore on the task_results table.
type PostgresResultStore struct {
	db store.DBTX
}

// NewPostgresResultStore creates a new PostgreSQL result store.
func NewPostgresResultStore(db store.DBTX) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// SaveResults replaces the task's results. When the store wraps a connection
// pool the delete and inserts run in one transaction; when it already wraps
// a transaction they join it.
func (s *PostgresResultStore) SaveResults(ctx context.Context, taskID string, results []*domain.Result) error {
	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return replaceResults(ctx, tx, taskID, results)
		})
	}
	return replaceResults(ctx, s.db, taskID, results)
}

func replaceResults(ctx context.Context, db store.DBTX, taskID string, results []*domain.Result) error {
	log := logger.FromContext(ctx)

	if _, err := db.ExecContext(ctx, `DELETE FROM task_results WHERE task_id = $1`, taskID); err != nil {
		log.Error("failed to clear task results",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to clear results: %w", MapError(err))
	}

	for start := 0; start < len(results); start += resultInsertChunk {
		end := min(start+resultInsertChunk, len(results))

		insert := psql.Insert("task_results").Columns(
			"task_id", "position", "symbol", "name", "technical_score", "confidence",
			"fused_score", "action", "summary", "rationale", "indicators",
			"rank", "selected", "recommendation_reason", "analyzed_at",
		)
		for i := start; i < end; i++ {
			r := results[i]
			var indicators any
			if len(r.Indicators) > 0 {
				indicators = []byte(r.Indicators)
			}
			insert = insert.Values(
				taskID, i, r.Symbol, r.Name, r.TechnicalScore, r.Confidence,
				r.FusedScore, r.Action, r.Summary, r.Rationale, indicators,
				r.Rank, r.Selected, r.RecommendationReason, r.AnalyzedAt,
			)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build result insert: %w", err)
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			log.Error("failed to insert task results",
				slog.String("task_id", taskID),
				slog.Int("count", end-start),
				slog.String("error", err.Error()))
			if IsForeignKeyViolation(err) {
				return fmt.Errorf("failed to insert results: %w", store.ErrTaskNotFound)
			}
			return fmt.Errorf("failed to insert results: %w", MapError(err))
		}
	}

	log.Debug("task results saved",
		slog.String("task_id", taskID),
		slog.Int("count", len(results)))
	return nil
}

// ListResults implements store.ResultStore.
func (s *PostgresResultStore) ListResults(ctx context.Context, filter store.ResultFilter) ([]*domain.Result, error) {
	filter = filter.Normalize()

	b := psql.Select(
		"task_id", "symbol", "name", "technical_score", "confidence", "fused_score",
		"action", "summary", "rationale", "indicators", "rank", "selected",
		"recommendation_reason", "analyzed_at",
	).From("task_results").Where(sq.Eq{"task_id": filter.TaskID})
	if filter.SelectedOnly {
		b = b.Where(sq.Eq{"selected": true})
	}

	query, args, err := b.OrderBy("rank = 0", "rank", "position").Limit(uint64(filter.Limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build result query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list task results",
			slog.String("task_id", filter.TaskID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list results: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var results []*domain.Result
	for rows.Next() {
		var (
			r          domain.Result
			technical  sql.NullFloat64
			confidence sql.NullFloat64
			indicators []byte
		)
		if err := rows.Scan(
			&r.TaskID, &r.Symbol, &r.Name, &technical, &confidence, &r.FusedScore,
			&r.Action, &r.Summary, &r.Rationale, &indicators, &r.Rank, &r.Selected,
			&r.RecommendationReason, &r.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if technical.Valid {
			r.TechnicalScore = &technical.Float64
		}
		if confidence.Valid {
			r.Confidence = &confidence.Float64
		}
		if len(indicators) > 0 {
			r.Indicators = indicators
		}
		r.AnalyzedAt = r.AnalyzedAt.UTC()
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results: %w", MapError(err))
	}
	return results, nil
}

// DeleteByTask implements store.ResultStore.
func (s *PostgresResultStore) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_results WHERE task_id = $1`, taskID); err != nil {
		logger.FromContext(ctx).Error("failed to delete task results",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to delete results: %w", MapError(err))
	}
	return nil
}
