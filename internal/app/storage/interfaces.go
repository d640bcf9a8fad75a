package storage

import (
	"context"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
)

// AccountStore holds the account roster and the store sets discovered for
// each account. Store sets are only ever written through ReplaceStores,
// which swaps the whole set at once; partial updates are not supported so
// readers never observe a half-refreshed account.
type AccountStore interface {
	PutAccount(ctx context.Context, acct account.Account) error
	GetAccount(ctx context.Context, name string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
	ReplaceStores(ctx context.Context, name string, storeIDs []string, discoveredAt time.Time) error
	MarkError(ctx context.Context, name, message string) error
}

// HistoryStore persists batch run summaries.
type HistoryStore interface {
	RecordBatch(ctx context.Context, rec BatchRecord) error
	ListBatches(ctx context.Context, limit int) ([]BatchRecord, error)
}

// BatchRecord is the persisted summary of one batch run. Individual fetch
// payloads are deliberately not stored; only the shape of the run survives.
type BatchRecord struct {
	ID         string    `db:"id" json:"id"`
	Endpoint   string    `db:"endpoint" json:"endpoint"`
	DateStart  string    `db:"date_start" json:"date_start"`
	DateEnd    string    `db:"date_end" json:"date_end"`
	Total      int       `db:"total" json:"total"`
	Failed     int       `db:"failed" json:"failed"`
	Cancelled  bool      `db:"cancelled" json:"cancelled"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}
