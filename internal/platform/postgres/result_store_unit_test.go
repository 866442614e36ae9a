package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresResultStore_SaveResults(t *testing.T) {
	t.Parallel()

	score := 7.5
	results := []*domain.Result{
		{Symbol: "600519", FusedScore: 8.1, Action: "buy", Rank: 1, Selected: true, TechnicalScore: &score, AnalyzedAt: time.Now().UTC()},
		{Symbol: "000001", FusedScore: 3.2, Action: "sell", Rank: 2, AnalyzedAt: time.Now().UTC()},
	}

	t.Run("replaces results in a transaction", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM task_results WHERE task_id").
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec(`INSERT INTO task_results \(task_id,position,symbol`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresResultStore(db).SaveResults(context.Background(), "t1", results))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when insert fails", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM task_results").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO task_results").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := NewPostgresResultStore(db).SaveResults(context.Background(), "t1", results)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing task", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM task_results").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO task_results").
			WillReturnError(&pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "task_results_task_id_fkey"})
		mock.ExpectRollback()

		err := NewPostgresResultStore(db).SaveResults(context.Background(), "gone", results)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty set only clears", func(t *testing.T) {
		t.Parallel()
		db, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM task_results").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresResultStore(db).SaveResults(context.Background(), "t1", nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresResultStore_ListResults(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	now := time.Now().UTC()
	indicators, err := json.Marshal(map[string]float64{"rsi": 55.2})
	require.NoError(t, err)

	columns := []string{
		"task_id", "symbol", "name", "technical_score", "confidence", "fused_score",
		"action", "summary", "rationale", "indicators", "rank", "selected",
		"recommendation_reason", "analyzed_at",
	}
	mock.ExpectQuery(`FROM task_results WHERE task_id = \$1 AND selected = \$2 ORDER BY rank = 0, rank, position LIMIT 100`).
		WithArgs("t1", true).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("t1", "600519", "Moutai", 7.5, nil, 8.1, "buy", "", "", indicators, 1, true, "top pick", now))

	results, err := NewPostgresResultStore(db).ListResults(context.Background(), store.ResultFilter{
		TaskID:       "t1",
		SelectedOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "600519", r.Symbol)
	require.NotNil(t, r.TechnicalScore)
	assert.InDelta(t, 7.5, *r.TechnicalScore, 1e-9)
	assert.Nil(t, r.Confidence)
	assert.Equal(t, 1, r.Rank)
	assert.True(t, r.Selected)
	assert.JSONEq(t, `{"rsi":55.2}`, string(r.Indicators))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResultStore_DeleteByTask(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM task_results WHERE task_id").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, NewPostgresResultStore(db).DeleteByTask(context.Background(), "t1"))
}
