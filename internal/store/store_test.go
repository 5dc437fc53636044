package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleReport() *schemas.RunReport {
	start := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	r := &schemas.RunReport{
		ID:         "run-42",
		Scenario:   "comment-widget",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Steps: []schemas.StepOutcome{
			{Index: 0, Name: "open page", Kind: schemas.StepNavigate, Status: schemas.StatusSuccess,
				StartedAt: start, FinishedAt: start.Add(700 * time.Millisecond)},
			{Index: 1, Name: "count before", Kind: schemas.StepCount, Status: schemas.StatusSuccess,
				Value: schemas.NumberValue(3), StartedAt: start.Add(700 * time.Millisecond), FinishedAt: start.Add(750 * time.Millisecond)},
			{Index: 2, Name: "comments api", Kind: schemas.StepWait, Status: schemas.StatusWarning, ErrorKind: schemas.KindSignalTimeout,
				Message: "no matching response", ContinueOnFailure: true, StartedAt: start.Add(750 * time.Millisecond), FinishedAt: start.Add(1500 * time.Millisecond)},
		},
		Events: []schemas.Event{{Seq: 0, Kind: schemas.EventResponse, URL: "https://blog.test/api/comments"}},
	}
	r.Finalize()
	return r
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should ping the pool once on creation", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		assert.NotNil(t, s)
		assert.NoError(t, mockPool.ExpectationsWereMet(), "the ping expectation must be consumed")
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS probe_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS probe_runs").
		WillReturnError(errors.New("permission denied"))
	assert.ErrorContains(t, s.EnsureSchema(context.Background()), "permission denied")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist run and steps without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs("run-42", "comment-widget", "degraded", false, report.StartedAt, int64(1500), 1,
				[]string{}, []string{"comments api: no matching response"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"probe_steps"}, stepColumns).
			WillReturnResult(3)
		// Commit followed by the deferred Rollback, which reports ErrTxClosed.
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when the run insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WillReturnError(errors.New("duplicate key"))
		mockPool.ExpectRollback()

		err := s.SaveReport(ctx, sampleReport())
		assert.ErrorContains(t, err, "failed to insert run run-42")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on a short copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"probe_steps"}, stepColumns).
			WillReturnResult(2)
		mockPool.ExpectRollback()

		err := s.SaveReport(ctx, sampleReport())
		assert.ErrorContains(t, err, "expected 3, got 2")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report begin errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		beginErr := errors.New("too many connections")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.SaveReport(ctx, sampleReport())
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockStore(t, zap.NewNop())
	now := time.Now().UTC()

	columns := []string{"id", "scenario", "verdict", "timed_out", "started_at", "duration_ms", "event_count"}
	rows := pgxmock.NewRows(columns).
		AddRow("run-2", "comment-widget", "passed", false, now, int64(1200), 4).
		AddRow("run-1", "comment-widget", "failed", true, now.Add(-time.Hour), int64(120000), 0)

	mockPool.ExpectQuery(flexibleSQLMatcher(recentRunsSQL)).
		WithArgs("comment-widget", 20).
		WillReturnRows(rows)

	runs, err := s.RecentRuns(ctx, "comment-widget", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, schemas.VerdictPassed, runs[0].Verdict)
	assert.Equal(t, 1200*time.Millisecond, runs[0].Duration)
	assert.Equal(t, 4, runs[0].EventCount)
	assert.True(t, runs[1].TimedOut)
	assert.True(t, runs[0].StartedAt.Equal(now))

	mockPool.ExpectQuery(flexibleSQLMatcher(recentRunsSQL)).
		WithArgs("comment-widget", 5).
		WillReturnError(errors.New("relation does not exist"))
	_, err = s.RecentRuns(ctx, "comment-widget", 5)
	assert.ErrorContains(t, err, "failed to query runs")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}
