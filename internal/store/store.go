// File: internal/store/store.go
// Description: Postgres-backed record store. One row per target carrying
// its payload and, once attempted, its terminal outcome. Targets without
// an outcome are the pending work a run picks up.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    site_url      TEXT NOT NULL,
    payload       JSONB NOT NULL,
    enqueued_at   TIMESTAMPTZ NOT NULL,
    outcome       JSONB,
    attempt_id    TEXT,
    resolved_url  TEXT,
    duration_ms   BIGINT,
    screenshot    TEXT,
    completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS targets_pending_idx ON targets (enqueued_at) WHERE outcome IS NULL;`

const insertTargetSQL = `
INSERT INTO targets (id, name, site_url, payload, enqueued_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name     = EXCLUDED.name,
    site_url = EXCLUDED.site_url,
    payload  = EXCLUDED.payload;`

const nextTargetsSQL = `
SELECT id, name, site_url, payload, enqueued_at
FROM targets
WHERE outcome IS NULL
ORDER BY enqueued_at, id
LIMIT $1;`

const recordOutcomeSQL = `
UPDATE targets SET
    outcome      = $2,
    attempt_id   = $3,
    resolved_url = $4,
    duration_ms  = $5,
    screenshot   = $6,
    completed_at = $7
WHERE id = $1;`

// Store implements schemas.RecordStore on Postgres.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RecordStore = (*Store)(nil)

// New verifies connectivity and returns a store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping record store database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the targets table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure targets schema: %w", err)
	}
	return nil
}

// AddTarget inserts or refreshes a target. Re-adding an already attempted
// target keeps its recorded outcome; clearing it is an explicit operator
// action, not a side effect of re-ingesting a list.
func (s *Store) AddTarget(ctx context.Context, t schemas.Target) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for target %s: %w", t.ID, err)
	}
	enqueued := t.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, insertTargetSQL, t.ID, t.Name, t.SiteURL, payload, enqueued); err != nil {
		return fmt.Errorf("failed to add target %s: %w", t.ID, err)
	}
	return nil
}

// NextTargets returns up to limit unattempted targets in enqueue order.
func (s *Store) NextTargets(ctx context.Context, limit int) ([]schemas.Target, error) {
	rows, err := s.pool.Query(ctx, nextTargetsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending targets: %w", err)
	}
	defer rows.Close()

	var targets []schemas.Target
	for rows.Next() {
		var (
			t       schemas.Target
			payload []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.SiteURL, &payload, &t.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			// A corrupt payload row is skipped, not fatal: the rest of the
			// list still deserves its attempts.
			s.log.Warn("Skipping target with undecodable payload",
				zap.String("target_id", t.ID), zap.Error(err))
			continue
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading pending targets: %w", err)
	}
	return targets, nil
}

// RecordOutcome stores the terminal result of one attempt.
func (s *Store) RecordOutcome(ctx context.Context, targetID string, outcome schemas.SubmissionOutcome, meta schemas.AttemptMetadata) error {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome for target %s: %w", targetID, err)
	}
	tag, err := s.pool.Exec(ctx, recordOutcomeSQL,
		targetID,
		encoded,
		meta.AttemptID,
		meta.ResolvedURL,
		meta.Duration.Milliseconds(),
		meta.ScreenshotRef,
		meta.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for target %s: %w", targetID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no target with id %s", targetID)
	}
	s.log.Debug("Recorded outcome",
		zap.String("target_id", targetID),
		zap.String("kind", string(outcome.Kind)),
	)
	return nil
}
