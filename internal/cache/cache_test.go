// File: internal/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/internal/config"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for a statement.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newTestCache(t *testing.T) (*Cache, pgxmock.PgxPoolIface, *clockwork.FakeClock) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	mockPool.ExpectPing()
	c, err := New(context.Background(), mockPool, zap.NewNop(), clock, config.CacheConfig{
		InvalidateAfter:   3,
		ReResolveCooldown: 168 * time.Hour,
	})
	require.NoError(t, err)
	return c, mockPool, clock
}

func TestNewPingFails(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop(), nil, config.CacheConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
}

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://Example.COM/about/us", want: "https://example.com"},
		{in: "example.com", want: "https://example.com"},
		{in: "http://example.com:80/contact", want: "http://example.com"},
		{in: "https://example.com:443", want: "https://example.com"},
		{in: "https://example.com:8443/x", want: "https://example.com:8443"},
		{in: "   ", wantErr: true},
		{in: "https://", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeOrigin(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEnsureSchema(t *testing.T) {
	c, mockPool, _ := newTestCache(t)
	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS resolution_cache")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, c.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	c, mockPool, clock := newTestCache(t)
	now := clock.Now().UTC()

	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO resolution_cache")).
		WithArgs("https://example.com", "https://example.com/contact/", 0.92, 0, now, now, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Record(context.Background(), "https://example.com/",
		"https://example.com/contact/", 0.92, FailureNone)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordUnreachableOnlyTouches(t *testing.T) {
	c, mockPool, clock := newTestCache(t)
	now := clock.Now().UTC()

	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO resolution_cache (origin, last_checked)")).
		WithArgs("https://example.com", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Record(context.Background(), "example.com", "", 0, FailureUnreachable)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordFirstFormMissDoesNotInvalidate(t *testing.T) {
	c, mockPool, _ := newTestCache(t)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT origin, contact_url")).
		WithArgs("https://example.com").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO resolution_cache")).
		WithArgs("https://example.com", pgxmock.AnyArg(), 0.0, 1, pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Record(context.Background(), "https://example.com", "", 0, FailureNoForm)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordThirdConsecutiveFormMissInvalidates(t *testing.T) {
	c, mockPool, clock := newTestCache(t)
	contact := "https://example.com/contact/"
	resolved := clock.Now().Add(-48 * time.Hour)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT origin, contact_url")).
		WithArgs("https://example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"origin", "contact_url", "confidence", "no_form_streak",
			"last_resolved", "last_checked", "invalidated",
		}).AddRow("https://example.com", &contact, 0.8, 2, &resolved, clock.Now(), false))
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO resolution_cache")).
		WithArgs("https://example.com", pgxmock.AnyArg(), 0.8, 3, pgxmock.AnyArg(), pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Record(context.Background(), "https://example.com", "", 0, FailureNoForm)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordSecondFormMissKeepsURL(t *testing.T) {
	c, mockPool, clock := newTestCache(t)
	contact := "https://example.com/contact/"
	resolved := clock.Now().Add(-24 * time.Hour)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT origin, contact_url")).
		WithArgs("https://example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"origin", "contact_url", "confidence", "no_form_streak",
			"last_resolved", "last_checked", "invalidated",
		}).AddRow("https://example.com", &contact, 0.8, 1, &resolved, clock.Now(), false))
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO resolution_cache")).
		WithArgs("https://example.com", pgxmock.AnyArg(), 0.8, 2, pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := c.Record(context.Background(), "https://example.com", "", 0, FailureNoForm)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestLookupMissingEntry(t *testing.T) {
	c, mockPool, _ := newTestCache(t)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT origin, contact_url")).
		WithArgs("https://example.com").
		WillReturnError(pgx.ErrNoRows)

	e, err := c.Lookup(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestUsable(t *testing.T) {
	c, _, clock := newTestCache(t)
	contact := "https://example.com/contact/"

	fresh := &Entry{ContactURL: &contact, LastResolved: clock.Now().Add(-time.Hour)}
	assert.True(t, c.Usable(fresh))

	stale := &Entry{ContactURL: &contact, LastResolved: clock.Now().Add(-8 * 24 * time.Hour)}
	assert.False(t, c.Usable(stale), "cooldown expired entries force re-resolution")

	invalidated := &Entry{ContactURL: &contact, LastResolved: clock.Now(), Invalidated: true}
	assert.False(t, c.Usable(invalidated))

	assert.False(t, c.Usable(&Entry{LastResolved: clock.Now()}), "entries without a URL are never usable")
	assert.False(t, c.Usable(nil))
}

func TestOnCooldown(t *testing.T) {
	c, _, clock := newTestCache(t)
	contact := "https://example.com/contact/"

	cooling := &Entry{ContactURL: &contact, NoFormStreak: 3, LastResolved: clock.Now().Add(-24 * time.Hour), Invalidated: true}
	assert.True(t, c.OnCooldown(cooling), "invalidated a day after the last good resolution must wait out the window")

	expired := &Entry{ContactURL: &contact, NoFormStreak: 3, LastResolved: clock.Now().Add(-8 * 24 * time.Hour), Invalidated: true}
	assert.False(t, c.OnCooldown(expired))

	neverResolved := &Entry{NoFormStreak: 3, Invalidated: true}
	assert.False(t, c.OnCooldown(neverResolved), "no successful resolution means nothing to cool down from")

	valid := &Entry{ContactURL: &contact, LastResolved: clock.Now().Add(-time.Hour)}
	assert.False(t, c.OnCooldown(valid))
	assert.False(t, c.OnCooldown(nil))
}

func TestUsableAfterClockAdvance(t *testing.T) {
	c, _, clock := newTestCache(t)
	contact := "https://example.com/contact/"
	e := &Entry{ContactURL: &contact, LastResolved: clock.Now()}

	assert.True(t, c.Usable(e))
	clock.Advance(169 * time.Hour)
	assert.False(t, c.Usable(e))
}
