// Package postgres implements the persistence contracts over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/regimescan/internal/persistence"
)

// shiftRepo implements persistence.ShiftRepo for PostgreSQL.
type shiftRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Connect opens a PostgreSQL connection pool for the given DSN.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return db, nil
}

// NewShiftRepo creates a PostgreSQL-backed scan history repository.
func NewShiftRepo(db *sqlx.DB, timeout time.Duration) persistence.ShiftRepo {
	return &shiftRepo{db: db, timeout: timeout}
}

// Insert stores one scan record with its smoothed series as JSON.
func (r *shiftRepo) Insert(ctx context.Context, record persistence.ScanRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if record.ID == "" {
		return fmt.Errorf("scan record id must not be empty")
	}
	if record.Symbol == "" {
		return fmt.Errorf("scan record symbol must not be empty")
	}

	seriesJSON, err := json.Marshal(record.Series)
	if err != nil {
		return fmt.Errorf("failed to marshal smoothed series: %w", err)
	}

	query := `
		INSERT INTO regime_scans
		(id, symbol, source, observations, stride, smoothing,
		 change_index, change_label, series, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.Symbol, record.Source, record.Observations,
		record.Stride, record.Smoothing, record.ChangeIndex,
		record.ChangeLabel, seriesJSON, record.ScannedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scan record: %w", err)
	}
	return nil
}

// Latest returns the most recent scan for a symbol.
func (r *shiftRepo) Latest(ctx context.Context, symbol string) (*persistence.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, source, observations, stride, smoothing,
		       change_index, change_label, series, scanned_at, created_at
		FROM regime_scans
		WHERE symbol = $1
		ORDER BY scanned_at DESC
		LIMIT 1`

	record, err := scanRecord(r.db.QueryRowxContext(ctx, query, symbol))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest scan for %s: %w", symbol, err)
	}
	return record, nil
}

// History returns up to limit scans for a symbol, newest first.
func (r *shiftRepo) History(ctx context.Context, symbol string, limit int) ([]persistence.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, symbol, source, observations, stride, smoothing,
		       change_index, change_label, series, scanned_at, created_at
		FROM regime_scans
		WHERE symbol = $1
		ORDER BY scanned_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var records []persistence.ScanRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*persistence.ScanRecord, error) {
	var record persistence.ScanRecord
	var seriesJSON []byte

	err := row.Scan(&record.ID, &record.Symbol, &record.Source,
		&record.Observations, &record.Stride, &record.Smoothing,
		&record.ChangeIndex, &record.ChangeLabel, &seriesJSON,
		&record.ScannedAt, &record.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(seriesJSON) > 0 {
		if err := json.Unmarshal(seriesJSON, &record.Series); err != nil {
			return nil, fmt.Errorf("failed to unmarshal smoothed series: %w", err)
		}
	}
	return &record, nil
}

// Schema is the DDL for the scan history table.
const Schema = `
CREATE TABLE IF NOT EXISTS regime_scans (
	id           UUID PRIMARY KEY,
	symbol       TEXT NOT NULL,
	source       TEXT NOT NULL,
	observations INTEGER NOT NULL,
	stride       INTEGER NOT NULL,
	smoothing    DOUBLE PRECISION NOT NULL,
	change_index INTEGER,
	change_label TEXT,
	series       JSONB NOT NULL,
	scanned_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS regime_scans_symbol_scanned_at
	ON regime_scans (symbol, scanned_at DESC);`

// EnsureSchema creates the scan history table if it does not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure regime_scans schema: %w", err)
	}
	return nil
}
