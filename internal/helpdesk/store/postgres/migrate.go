package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS issues (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT '',
		urgency           INT NOT NULL,
		status            TEXT NOT NULL,
		region            TEXT NOT NULL,
		submitted_by      TEXT NOT NULL,
		assigned_expert   TEXT,
		rejected_by       TEXT[] NOT NULL DEFAULT '{}',
		skipped_by        TEXT[] NOT NULL DEFAULT '{}',
		reassignment_log  JSONB NOT NULL DEFAULT '[]',
		done_by_submitter BOOLEAN NOT NULL DEFAULT FALSE,
		done_by_expert    BOOLEAN NOT NULL DEFAULT FALSE,
		resolution_notes  TEXT,
		created_at        TIMESTAMPTZ NOT NULL,
		resolved_at       TIMESTAMPTZ,
		closed_at         TIMESTAMPTZ,
		version           BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_submitted_by ON issues (submitted_by)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_assigned_expert ON issues (assigned_expert)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_region_status ON issues (region, status)`,
	`CREATE TABLE IF NOT EXISTS experts (
		id                 TEXT PRIMARY KEY,
		region             TEXT NOT NULL,
		verified           BOOLEAN NOT NULL DEFAULT FALSE,
		available          BOOLEAN NOT NULL DEFAULT FALSE,
		active_issues      INT NOT NULL DEFAULT 0 CHECK (active_issues >= 0),
		trust_score        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		trust_votes        INT NOT NULL DEFAULT 1,
		tags               TEXT[] NOT NULL DEFAULT '{}',
		max_concurrent     INT NOT NULL DEFAULT 0,
		verification_notes TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_experts_region ON experts (region, verified, available)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		id         TEXT PRIMARY KEY,
		issue_id   TEXT NOT NULL,
		expert_id  TEXT NOT NULL,
		rater_id   TEXT NOT NULL,
		score      INT NOT NULL CHECK (score BETWEEN 1 AND 5),
		comment    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (issue_id, rater_id)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
