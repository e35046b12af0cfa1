// Package store defines storage interfaces for the bar archive and for
// persisted backtest runs, with Parquet, CSV and SQLite implementations.
package store

import (
	"context"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/ledger"
	"tradelab/internal/summary"
)

// BarReader yields one symbol's bars in non-decreasing time order within
// [start, end]. A zero start or end leaves that side unbounded.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)
}

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	BarReader

	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunStore persists finished backtest runs.
type RunStore interface {
	// SaveRun stores the run with all of its instruments, trades and summaries.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun loads a run and everything recorded for it.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns run headers, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Run is the persisted form of one backtest invocation.
type Run struct {
	ID       string    `json:"id"`
	Strategy string    `json:"strategy"`
	Market   string    `json:"market"`
	Capital  float64   `json:"capital"`
	Begin    time.Time `json:"begin,omitzero"`
	End      time.Time `json:"end,omitzero"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Instruments is nil for headers returned by ListRuns.
	Instruments []InstrumentRun `json:"instruments,omitempty"`
}

// InstrumentRun is the persisted result for one symbol of a run.
type InstrumentRun struct {
	Symbol  string           `json:"symbol"`
	Bars    int              `json:"bars"`
	Err     string           `json:"error,omitempty"`
	Trades  []ledger.Trade   `json:"trades"`
	Summary *summary.Summary `json:"summary"`
}
