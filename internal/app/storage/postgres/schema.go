package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS report_batches (
		id          TEXT PRIMARY KEY,
		endpoint    TEXT NOT NULL,
		date_start  TEXT NOT NULL,
		date_end    TEXT NOT NULL,
		total       INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS report_batches_started_at_idx ON report_batches (started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS report_batches_endpoint_idx ON report_batches (endpoint)`,
}

// Apply creates the history schema. Statements are idempotent so Apply is
// safe to run on every start.
func Apply(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
