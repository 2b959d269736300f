// Package postgres implements the persistence contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/gridrun/internal/orchestrator"
	"github.com/sawpanic/gridrun/internal/persistence"
)

// ErrNotFound is returned when a scan does not exist.
var ErrNotFound = errors.New("scan not found")

// scansRepo implements ScanRepo on PostgreSQL.
type scansRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScansRepo creates a PostgreSQL scan repository.
func NewScansRepo(db *sqlx.DB, timeout time.Duration) persistence.ScanRepo {
	return &scansRepo{db: db, timeout: timeout}
}

// Insert adds a scan summary.
func (r *scansRepo) Insert(ctx context.Context, summary *persistence.ScanSummary) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO scans (scan_id, started_at, duration_ms, regime, signal_count, entry_count, signals, warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		summary.ScanID, summary.StartedAt, summary.DurationMs, summary.Regime,
		summary.SignalCount, summary.EntryCount, summary.Signals, summary.Warnings).
		Scan(&summary.ID, &summary.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate scan %s: %w", summary.ScanID, err)
		}
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

// GetByScanID fetches one scan summary.
func (r *scansRepo) GetByScanID(ctx context.Context, scanID string) (*persistence.ScanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var summary persistence.ScanSummary
	err := r.db.GetContext(ctx, &summary,
		`SELECT * FROM scans WHERE scan_id = $1`, scanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, scanID)
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return &summary, nil
}

// ListRecent returns the newest scans first.
func (r *scansRepo) ListRecent(ctx context.Context, limit int) ([]persistence.ScanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var summaries []persistence.ScanSummary
	err := r.db.SelectContext(ctx, &summaries,
		`SELECT * FROM scans ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return summaries, nil
}

// CountByRegime aggregates scan counts per regime since a timestamp.
func (r *scansRepo) CountByRegime(ctx context.Context, since time.Time) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT regime, COUNT(*) FROM scans WHERE started_at >= $1 GROUP BY regime`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var regime string
		var count int
		if err := rows.Scan(&regime, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[regime] = count
	}
	return counts, rows.Err()
}

// ScanWriter adapts a ScanRepo to the orchestrator's recorder hook.
type ScanWriter struct {
	repo persistence.ScanRepo
}

// NewScanWriter wraps a repository for use by the orchestrator.
func NewScanWriter(repo persistence.ScanRepo) *ScanWriter {
	return &ScanWriter{repo: repo}
}

// RecordScan flattens a scan result into a summary row.
func (w *ScanWriter) RecordScan(ctx context.Context, result *orchestrator.ScanResult) error {
	signals, err := json.Marshal(result.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	regime := ""
	if result.Regime != nil {
		regime = result.Regime.State.String()
	}

	return w.repo.Insert(ctx, &persistence.ScanSummary{
		ScanID:      result.ScanID,
		StartedAt:   result.StartedAt,
		DurationMs:  result.Duration.Milliseconds(),
		Regime:      regime,
		SignalCount: len(result.Signals),
		EntryCount:  result.EntryCount(),
		Signals:     signals,
		Warnings:    warnings,
	})
}

// Schema is the DDL for the scans table.
const Schema = `
CREATE TABLE IF NOT EXISTS scans (
    id           BIGSERIAL PRIMARY KEY,
    scan_id      TEXT NOT NULL UNIQUE,
    started_at   TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL,
    regime       TEXT NOT NULL,
    signal_count INT NOT NULL,
    entry_count  INT NOT NULL,
    signals      JSONB NOT NULL DEFAULT '[]',
    warnings     JSONB NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scans (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_regime ON scans (regime);
`

// Connect opens a PostgreSQL connection pool and ensures the schema.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
