// Package persistence defines the storage contracts for scan history.
package persistence

import (
	"context"
	"time"
)

// ScanSummary is one persisted scan outcome. Signal payloads are stored as
// JSONB so the schema survives signal shape changes.
type ScanSummary struct {
	ID          int64     `db:"id" json:"id"`
	ScanID      string    `db:"scan_id" json:"scan_id"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	DurationMs  int64     `db:"duration_ms" json:"duration_ms"`
	Regime      string    `db:"regime" json:"regime"`
	SignalCount int       `db:"signal_count" json:"signal_count"`
	EntryCount  int       `db:"entry_count" json:"entry_count"`
	Signals     []byte    `db:"signals" json:"-"`
	Warnings    []byte    `db:"warnings" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ScanRepo stores and retrieves scan summaries.
type ScanRepo interface {
	Insert(ctx context.Context, summary *ScanSummary) error
	GetByScanID(ctx context.Context, scanID string) (*ScanSummary, error)
	ListRecent(ctx context.Context, limit int) ([]ScanSummary, error)
	CountByRegime(ctx context.Context, since time.Time) (map[string]int, error)
}
