// Package persistence defines the storage contracts for scan outcomes.
// Each completed scan is recorded with its parameters and result so the
// detection history per symbol can be queried later; the detector itself
// stays stateless between calls.
package persistence

import (
	"context"
	"time"
)

// ScanRecord is one completed detector run.
type ScanRecord struct {
	ID           string             `db:"id" json:"id"`
	Symbol       string             `db:"symbol" json:"symbol"`
	Source       string             `db:"source" json:"source"` // "alphavantage", "synthetic", "feed"
	Observations int                `db:"observations" json:"observations"`
	Stride       int                `db:"stride" json:"stride"`
	Smoothing    float64            `db:"smoothing" json:"smoothing"`
	ChangeIndex  *int               `db:"change_index" json:"change_index,omitempty"`
	ChangeLabel  *string            `db:"change_label" json:"change_label,omitempty"`
	Series       map[string]float64 `db:"-" json:"series"`
	ScannedAt    time.Time          `db:"scanned_at" json:"scanned_at"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// Detected reports whether the scan found a regime change.
func (r ScanRecord) Detected() bool {
	return r.ChangeIndex != nil
}

// ShiftRepo stores and queries scan outcomes.
type ShiftRepo interface {
	// Insert stores one scan record.
	Insert(ctx context.Context, record ScanRecord) error
	// Latest returns the most recent record for a symbol, or nil if the
	// symbol has never been scanned.
	Latest(ctx context.Context, symbol string) (*ScanRecord, error)
	// History returns up to limit records for a symbol, newest first.
	History(ctx context.Context, symbol string, limit int) ([]ScanRecord, error)
}
