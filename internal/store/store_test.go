// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for a statement.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func sampleTarget() schemas.Target {
	return schemas.Target{
		ID:      "tgt-1",
		Name:    "Acme Plumbing",
		SiteURL: "https://acme-plumbing.example",
		Payload: schemas.Payload{
			FirstName: "Dana",
			LastName:  "Reyes",
			Email:     "dana@example.com",
			Message:   "Hello from the neighborhood.",
		},
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewPingFails(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
}

func TestEnsureSchema(t *testing.T) {
	s, pool := newTestStore(t)
	pool.ExpectExec(flexibleSQLMatcher(schemaSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAddTarget(t *testing.T) {
	s, pool := newTestStore(t)
	target := sampleTarget()

	pool.ExpectExec(flexibleSQLMatcher(insertTargetSQL)).
		WithArgs(target.ID, target.Name, target.SiteURL, pgxmock.AnyArg(), target.EnqueuedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AddTarget(context.Background(), target))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestNextTargetsDecodesPayload(t *testing.T) {
	s, pool := newTestStore(t)
	target := sampleTarget()
	payload, err := json.Marshal(target.Payload)
	require.NoError(t, err)

	pool.ExpectQuery(flexibleSQLMatcher(nextTargetsSQL)).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "name", "site_url", "payload", "enqueued_at"},
		).AddRow(target.ID, target.Name, target.SiteURL, payload, target.EnqueuedAt))

	targets, err := s.NextTargets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, target, targets[0])
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestNextTargetsSkipsCorruptPayload(t *testing.T) {
	s, pool := newTestStore(t)
	good := sampleTarget()
	payload, err := json.Marshal(good.Payload)
	require.NoError(t, err)

	pool.ExpectQuery(flexibleSQLMatcher(nextTargetsSQL)).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "name", "site_url", "payload", "enqueued_at"},
		).
			AddRow("tgt-bad", "Broken", "https://broken.example", []byte("{not json"), good.EnqueuedAt).
			AddRow(good.ID, good.Name, good.SiteURL, payload, good.EnqueuedAt))

	targets, err := s.NextTargets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, good.ID, targets[0].ID)
}

func TestNextTargetsEmpty(t *testing.T) {
	s, pool := newTestStore(t)
	pool.ExpectQuery(flexibleSQLMatcher(nextTargetsSQL)).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "site_url", "payload", "enqueued_at"}))

	targets, err := s.NextTargets(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestRecordOutcome(t *testing.T) {
	s, pool := newTestStore(t)
	completed := time.Date(2026, 3, 1, 12, 1, 30, 0, time.UTC)
	outcome := schemas.SuccessOutcome("standard", schemas.VerifyURLChange)
	meta := schemas.AttemptMetadata{
		AttemptID:     "att-1",
		ResolvedURL:   "https://acme-plumbing.example/contact/",
		Duration:      90 * time.Second,
		ScreenshotRef: "",
		CompletedAt:   completed,
	}

	pool.ExpectExec(flexibleSQLMatcher(recordOutcomeSQL)).
		WithArgs("tgt-1", pgxmock.AnyArg(), "att-1",
			"https://acme-plumbing.example/contact/", int64(90000), "", completed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RecordOutcome(context.Background(), "tgt-1", outcome, meta))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordOutcomeUnknownTarget(t *testing.T) {
	s, pool := newTestStore(t)
	pool.ExpectExec(flexibleSQLMatcher(recordOutcomeSQL)).
		WithArgs("missing", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RecordOutcome(context.Background(), "missing",
		schemas.BlockedOutcome(schemas.BlockUnreachable, "down"), schemas.AttemptMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
