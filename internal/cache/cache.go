// File: internal/cache/cache.go
// Description: Postgres-backed resolution cache. Stores one row per site
// origin recording where the contact page was last found and how the last
// attempts went. Entries are superseded in place, never deleted.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/internal/config"
)

// DBPool abstracts the pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Failure classifies a resolution attempt for cache accounting.
type Failure string

const (
	// FailureNone records a successful resolution.
	FailureNone Failure = ""
	// FailureNoForm means the page loaded but no usable form was found.
	// Three consecutive ones invalidate the cached URL.
	FailureNoForm Failure = "no_form_found"
	// FailureUnreachable is transient and never counts against the entry.
	FailureUnreachable Failure = "unreachable"
)

// Entry is the cached resolution state for one origin.
type Entry struct {
	Origin       string
	ContactURL   *string
	Confidence   float64
	NoFormStreak int
	LastResolved time.Time
	LastChecked  time.Time
	Invalidated  bool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS resolution_cache (
    origin         TEXT PRIMARY KEY,
    contact_url    TEXT,
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    no_form_streak INTEGER NOT NULL DEFAULT 0,
    last_resolved  TIMESTAMPTZ,
    last_checked   TIMESTAMPTZ NOT NULL,
    invalidated    BOOLEAN NOT NULL DEFAULT FALSE
);`

const upsertSQL = `
INSERT INTO resolution_cache
    (origin, contact_url, confidence, no_form_streak, last_resolved, last_checked, invalidated)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (origin) DO UPDATE SET
    contact_url    = EXCLUDED.contact_url,
    confidence     = EXCLUDED.confidence,
    no_form_streak = EXCLUDED.no_form_streak,
    last_resolved  = EXCLUDED.last_resolved,
    last_checked   = EXCLUDED.last_checked,
    invalidated    = EXCLUDED.invalidated;`

const touchSQL = `
INSERT INTO resolution_cache (origin, last_checked)
VALUES ($1, $2)
ON CONFLICT (origin) DO UPDATE SET last_checked = EXCLUDED.last_checked;`

const lookupSQL = `
SELECT origin, contact_url, confidence, no_form_streak, last_resolved, last_checked, invalidated
FROM resolution_cache WHERE origin = $1;`

// Cache serializes same-key writes with a per-origin lock; reads go straight
// to the pool. Safe for one engine process, which is all the orchestrator
// runs.
type Cache struct {
	pool  DBPool
	log   *zap.Logger
	clock clockwork.Clock

	cooldown        time.Duration
	invalidateAfter int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the cache and verifies connectivity.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, clock clockwork.Clock, cfg config.CacheConfig) (*Cache, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		pool:            pool,
		log:             logger.Named("cache"),
		clock:           clock,
		cooldown:        cfg.ReResolveCooldown,
		invalidateAfter: cfg.InvalidateAfter,
		locks:           map[string]*sync.Mutex{},
	}, nil
}

// EnsureSchema creates the cache table when it does not exist yet.
func (c *Cache) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure resolution_cache schema: %w", err)
	}
	return nil
}

// NormalizeOrigin reduces a site URL to its canonical scheme://host origin,
// the cache key. Bare hostnames get https.
func NormalizeOrigin(site string) (string, error) {
	raw := strings.TrimSpace(site)
	if raw == "" {
		return "", errors.New("empty site URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unparseable site URL %q: %w", site, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("site URL %q has no host", site)
	}
	scheme := strings.ToLower(u.Scheme)
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}
	return scheme + "://" + host, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}

// Lookup fetches the entry for a site's origin. A missing row returns
// (nil, nil).
func (c *Cache) Lookup(ctx context.Context, site string) (*Entry, error) {
	origin, err := NormalizeOrigin(site)
	if err != nil {
		return nil, err
	}

	var e Entry
	var lastResolved *time.Time
	row := c.pool.QueryRow(ctx, lookupSQL, origin)
	err = row.Scan(&e.Origin, &e.ContactURL, &e.Confidence, &e.NoFormStreak,
		&lastResolved, &e.LastChecked, &e.Invalidated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache entry for %s: %w", origin, err)
	}
	if lastResolved != nil {
		e.LastResolved = *lastResolved
	}
	return &e, nil
}

// Usable reports whether an entry's URL should be reused instead of
// re-resolving: not invalidated, has a URL, and the last successful
// resolution is within the cooldown window.
func (c *Cache) Usable(e *Entry) bool {
	if e == nil || e.Invalidated || e.ContactURL == nil {
		return false
	}
	return c.clock.Now().Sub(e.LastResolved) < c.cooldown
}

// OnCooldown reports whether an invalidated entry is still inside the
// cooldown window measured from its last successful resolution. While it
// holds, the resolver must not burn a session re-resolving the site; the
// attempt surfaces the invalidation instead. An entry that never resolved
// successfully has nothing to cool down from.
func (c *Cache) OnCooldown(e *Entry) bool {
	if e == nil || !e.Invalidated || e.LastResolved.IsZero() {
		return false
	}
	return c.clock.Now().Sub(e.LastResolved) < c.cooldown
}

// Record updates the entry for a site after a resolution attempt. Success
// stores the URL and resets the failure streak; no_form_found increments it
// and invalidates the URL on the configured consecutive count; unreachable
// only refreshes the check timestamp.
func (c *Cache) Record(ctx context.Context, site, contactURL string, confidence float64, failure Failure) error {
	origin, err := NormalizeOrigin(site)
	if err != nil {
		return err
	}

	lock := c.keyLock(origin)
	lock.Lock()
	defer lock.Unlock()

	now := c.clock.Now().UTC()

	switch failure {
	case FailureUnreachable:
		// Transient: the counter and the cached URL stay untouched.
		if _, err := c.pool.Exec(ctx, touchSQL, origin, now); err != nil {
			return fmt.Errorf("failed to touch cache entry for %s: %w", origin, err)
		}
		return nil

	case FailureNone:
		_, err := c.pool.Exec(ctx, upsertSQL,
			origin, contactURL, confidence, 0, now, now, false)
		if err != nil {
			return fmt.Errorf("failed to record resolution for %s: %w", origin, err)
		}
		c.log.Debug("cache entry refreshed",
			zap.String("origin", origin),
			zap.String("contact_url", contactURL),
		)
		return nil

	case FailureNoForm:
		prev, err := c.Lookup(ctx, site)
		if err != nil {
			return err
		}
		e := Entry{Origin: origin}
		if prev != nil {
			e = *prev
		}
		e.NoFormStreak++
		invalidated := e.Invalidated || e.NoFormStreak >= c.invalidateAfter
		var lastResolved *time.Time
		if !e.LastResolved.IsZero() {
			t := e.LastResolved
			lastResolved = &t
		}
		_, err = c.pool.Exec(ctx, upsertSQL,
			origin, e.ContactURL, e.Confidence, e.NoFormStreak, lastResolved, now, invalidated)
		if err != nil {
			return fmt.Errorf("failed to record form miss for %s: %w", origin, err)
		}
		if invalidated && (prev == nil || !prev.Invalidated) {
			c.log.Info("cached contact URL invalidated",
				zap.String("origin", origin),
				zap.Int("consecutive_misses", e.NoFormStreak),
			)
		}
		return nil
	}
	return fmt.Errorf("unknown failure kind %q", failure)
}

func (c *Cache) keyLock(origin string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[origin]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[origin] = lock
	}
	return lock
}
