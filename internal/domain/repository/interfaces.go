package repository

import (
	"context"

	"ESStats/internal/domain/models"
)

// UpsertResult reports how an incoming 1-minute batch related to the
// stored state before any mutation. Skipped counts key-matches left
// untouched under the skip policy, so Inserted+Updated+Skipped always
// equals the number of distinct keys in the batch.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// RebuildResult reports a 30-minute rebuild for observability. Deleted and
// Inserted match whenever inputs did not change between calls.
type RebuildResult struct {
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
}

// Tx groups the write operations one import run performs. Every method
// runs inside the transaction scope the Store opened; the upsert and the
// 30-minute rebuild are never observable half-applied.
type Tx interface {
	// EnsureInstrument resolves a symbol to its id, creating it on first use.
	EnsureInstrument(ctx context.Context, symbol string) (int64, error)

	// InsertImportRun writes the audit row for a starting run (status
	// "failed" until finalized) and returns its id.
	InsertImportRun(ctx context.Context, run *models.ImportRun) (int64, error)

	// FinalizeImportRun fills in bounds, counts and terminal status.
	FinalizeImportRun(ctx context.Context, run *models.ImportRun) error

	// UpsertBars1m applies a canonical batch set-based: counts derive from
	// the key relationship between batch and stored state before mutating.
	// A key repeated within the batch collapses to its later occurrence.
	// An empty batch is a no-op with zero counts.
	UpsertBars1m(ctx context.Context, bars []models.Bar1m, policy models.MergePolicy) (UpsertResult, error)

	// RebuildBars30m deletes every derived bucket for the instrument in the
	// inclusive trading-date range and reinserts fresh aggregates from the
	// current 1-minute rows. Sessions label each bucket (window name or
	// "OTHER") with a wrap-aware period index.
	RebuildBars30m(ctx context.Context, instrumentID int64, tdMin, tdMax int, importID int64, sessions []models.WindowSpec) (RebuildResult, error)
}

// Store is the persistence boundary. One import run = one transaction:
// commit on success, roll back entirely on any failure.
type Store interface {
	Reader

	Init(ctx context.Context) error
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	Health(ctx context.Context) error
	Close() error
}

// Reader is the query surface used by the API and coverage analysis.
type Reader interface {
	RecentImports(ctx context.Context, limit int) ([]models.ImportRun, error)
	Bars1m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar1m, error)
	Bars30m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar30m, error)

	// CountBarsInWindow counts stored bars whose minute of day falls inside
	// the window, over an inclusive trading-date range, at "1m" or "30m"
	// resolution.
	CountBarsInWindow(ctx context.Context, symbol string, tdMin, tdMax int, w models.WindowSpec, resolution string) (int, error)
}

// AuditPublisher receives finalized import-run summaries. Write-only from
// the pipeline's perspective; failures are logged, never fatal.
type AuditPublisher interface {
	PublishImportRun(ctx context.Context, run *models.ImportRun) error
	Close() error
}

// Metrics is implemented by the Prometheus recorder.
type Metrics interface {
	RecordImportRows(symbol, outcome string, n int)
	RecordImportDuration(symbol string, seconds float64)
	RecordRebuildBuckets(symbol string, deleted, inserted int)
	RecordError(kind string)
}
