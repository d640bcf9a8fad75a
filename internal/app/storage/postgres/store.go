package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/liveiq-tools/report-layer/internal/app/storage"
)

// Store implements storage.HistoryStore backed by PostgreSQL. Only batch
// summaries are persisted; the account roster stays in memory because it is
// rebuilt from configuration and discovery on every start.
type Store struct {
	db *sqlx.DB
}

var _ storage.HistoryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection. maxOpen and
// maxIdle are applied when positive.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// --- HistoryStore -----------------------------------------------------------

func (s *Store) RecordBatch(ctx context.Context, rec storage.BatchRecord) error {
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = rec.FinishedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO report_batches (id, endpoint, date_start, date_end, total, failed, cancelled, started_at, finished_at)
		VALUES (:id, :endpoint, :date_start, :date_end, :total, :failed, :cancelled, :started_at, :finished_at)
	`, rec)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]storage.BatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []storage.BatchRecord
	err := s.db.SelectContext(ctx, &result, `
		SELECT id, endpoint, date_start, date_end, total, failed, cancelled, started_at, finished_at
		FROM report_batches
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return result, nil
}
