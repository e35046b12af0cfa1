package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/volatiletech/null"

	"tradelab/internal/ledger"
	"tradelab/internal/summary"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	strategy    TEXT NOT NULL,
	market      TEXT NOT NULL,
	capital     REAL NOT NULL,
	begin_at    INTEGER,
	end_at      INTEGER,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instruments (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq    INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	bars   INTEGER NOT NULL,
	error  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	symbol     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	status     INTEGER NOT NULL,
	buy_at     INTEGER NOT NULL,
	buy_price  REAL NOT NULL,
	qty        INTEGER NOT NULL,
	cost       REAL NOT NULL,
	sell_at    INTEGER,
	sell_price REAL,
	revenue    REAL,
	profit_amt REAL,
	profit_pct REAL,
	time_held  REAL,
	PRIMARY KEY (run_id, symbol, seq)
);

CREATE TABLE IF NOT EXISTS summaries (
	run_id             TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	symbol             TEXT NOT NULL,
	trades             INTEGER NOT NULL,
	total_profit_amt   REAL NOT NULL,
	total_profit_pct   REAL NOT NULL,
	win_count          INTEGER NOT NULL,
	loss_count         INTEGER NOT NULL,
	win_pct            REAL NOT NULL,
	loss_pct           REAL NOT NULL,
	avg_win_amt        REAL,
	avg_loss_amt       REAL,
	avg_win_pct        REAL,
	avg_loss_pct       REAL,
	avg_time_held      REAL NOT NULL,
	avg_trades_per_day REAL,
	buy_hold_qty       REAL,
	buy_hold_amt       REAL,
	buy_hold_pct       REAL,
	force_closed       INTEGER NOT NULL,
	first_close        REAL NOT NULL,
	last_close         REAL NOT NULL,
	PRIMARY KEY (run_id, symbol)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts the run and all of its rows in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, strategy, market, capital, begin_at, end_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Market, run.Capital,
		unixMilli(run.Begin), unixMilli(run.End),
		run.Started.UnixMilli(), run.Finished.UnixMilli(),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for i, inst := range run.Instruments {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO instruments (run_id, seq, symbol, bars, error) VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, inst.Symbol, inst.Bars, inst.Err,
		); err != nil {
			return fmt.Errorf("inserting instrument %s: %w", inst.Symbol, err)
		}
		for seq, t := range inst.Trades {
			if err = insertTrade(ctx, tx, run.ID, seq, t); err != nil {
				return fmt.Errorf("inserting %s trade %d: %w", inst.Symbol, seq, err)
			}
		}
		if inst.Summary != nil {
			if err = insertSummary(ctx, tx, run.ID, inst.Summary); err != nil {
				return fmt.Errorf("inserting %s summary: %w", inst.Symbol, err)
			}
		}
	}

	return tx.Commit()
}

func insertTrade(ctx context.Context, tx *sql.Tx, runID string, seq int, t ledger.Trade) error {
	var (
		sellAt               null.Int64
		sellPrice, revenue   null.Float64
		profitAmt, profitPct null.Float64
		timeHeld             null.Float64
	)
	if t.Sell != nil {
		sellAt = null.Int64From(t.Sell.Timestamp.UnixMilli())
		sellPrice = null.Float64From(t.Sell.Price)
		revenue = null.Float64From(t.Sell.Revenue)
	}
	if t.Profit != nil {
		profitAmt = null.Float64From(t.Profit.Amt)
		profitPct = null.Float64From(t.Profit.Pct)
	}
	if t.Stats != nil {
		timeHeld = null.Float64From(t.Stats.TimeHeld)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO trades (run_id, symbol, seq, status, buy_at, buy_price, qty, cost,
			sell_at, sell_price, revenue, profit_amt, profit_pct, time_held)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.Symbol, seq, int(t.Status), t.Buy.Timestamp.UnixMilli(), t.Buy.Price, t.Buy.Qty, t.Buy.Cost,
		sellAt, sellPrice, revenue, profitAmt, profitPct, timeHeld,
	)
	return err
}

func insertSummary(ctx context.Context, tx *sql.Tx, runID string, s *summary.Summary) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (run_id, symbol, trades, total_profit_amt, total_profit_pct,
			win_count, loss_count, win_pct, loss_pct, avg_win_amt, avg_loss_amt, avg_win_pct, avg_loss_pct,
			avg_time_held, avg_trades_per_day, buy_hold_qty, buy_hold_amt, buy_hold_pct,
			force_closed, first_close, last_close)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Symbol, s.Trades, s.TotalProfitAmt, s.TotalProfitPct,
		s.WinCount, s.LossCount, s.WinPct, s.LossPct, s.AvgWinAmt, s.AvgLossAmt, s.AvgWinPct, s.AvgLossPct,
		s.AvgTimeHeldMinutes, s.AvgTradesPerDay, s.BuyHoldQty, s.BuyHoldAmt, s.BuyHoldPct,
		s.ForceClosed, s.FirstClose, s.LastClose,
	)
	return err
}

// GetRun loads a run with its instruments, trades and summaries.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, market, capital, begin_at, end_at, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, bars, error FROM instruments WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var inst InstrumentRun
		if err := rows.Scan(&inst.Symbol, &inst.Bars, &inst.Err); err != nil {
			return nil, err
		}
		run.Instruments = append(run.Instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range run.Instruments {
		inst := &run.Instruments[i]
		if inst.Trades, err = s.loadTrades(ctx, id, inst.Symbol); err != nil {
			return nil, err
		}
		if inst.Summary, err = s.loadSummary(ctx, id, inst.Symbol); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// ListRuns returns run headers ordered newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, strategy, market, capital, begin_at, end_at, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) loadTrades(ctx context.Context, runID, symbol string) ([]ledger.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, buy_at, buy_price, qty, cost, sell_at, sell_price, revenue,
			profit_amt, profit_pct, time_held
		 FROM trades WHERE run_id = ? AND symbol = ? ORDER BY seq`, runID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		var (
			t                    = ledger.Trade{Symbol: symbol}
			status               int
			buyAt                int64
			sellAt               null.Int64
			sellPrice, revenue   null.Float64
			profitAmt, profitPct null.Float64
			timeHeld             null.Float64
		)
		if err := rows.Scan(&status, &buyAt, &t.Buy.Price, &t.Buy.Qty, &t.Buy.Cost,
			&sellAt, &sellPrice, &revenue, &profitAmt, &profitPct, &timeHeld); err != nil {
			return nil, err
		}
		t.Status = ledger.Status(status)
		t.Buy.Timestamp = time.UnixMilli(buyAt).UTC()
		if sellAt.Valid {
			t.Sell = &ledger.Exit{
				Timestamp: time.UnixMilli(sellAt.Int64).UTC(),
				Price:     sellPrice.Float64,
				Revenue:   revenue.Float64,
			}
		}
		if profitAmt.Valid {
			t.Profit = &ledger.Profit{Amt: profitAmt.Float64, Pct: profitPct.Float64}
		}
		if timeHeld.Valid {
			t.Stats = &ledger.Stats{TimeHeld: timeHeld.Float64}
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) loadSummary(ctx context.Context, runID, symbol string) (*summary.Summary, error) {
	sm := &summary.Summary{Symbol: symbol}
	err := s.db.QueryRowContext(ctx,
		`SELECT trades, total_profit_amt, total_profit_pct, win_count, loss_count, win_pct, loss_pct,
			avg_win_amt, avg_loss_amt, avg_win_pct, avg_loss_pct, avg_time_held, avg_trades_per_day,
			buy_hold_qty, buy_hold_amt, buy_hold_pct, force_closed, first_close, last_close
		 FROM summaries WHERE run_id = ? AND symbol = ?`, runID, symbol,
	).Scan(&sm.Trades, &sm.TotalProfitAmt, &sm.TotalProfitPct, &sm.WinCount, &sm.LossCount,
		&sm.WinPct, &sm.LossPct, &sm.AvgWinAmt, &sm.AvgLossAmt, &sm.AvgWinPct, &sm.AvgLossPct,
		&sm.AvgTimeHeldMinutes, &sm.AvgTradesPerDay, &sm.BuyHoldQty, &sm.BuyHoldAmt, &sm.BuyHoldPct,
		&sm.ForceClosed, &sm.FirstClose, &sm.LastClose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                 Run
		beginAt, endAt      null.Int64
		startedAt, finished int64
	)
	if err := sc.Scan(&run.ID, &run.Strategy, &run.Market, &run.Capital,
		&beginAt, &endAt, &startedAt, &finished); err != nil {
		return nil, err
	}
	if beginAt.Valid {
		run.Begin = time.UnixMilli(beginAt.Int64).UTC()
	}
	if endAt.Valid {
		run.End = time.UnixMilli(endAt.Int64).UTC()
	}
	run.Started = time.UnixMilli(startedAt).UTC()
	run.Finished = time.UnixMilli(finished).UTC()
	return &run, nil
}

// unixMilli maps the zero time to NULL.
func unixMilli(t time.Time) null.Int64 {
	if t.IsZero() {
		return null.Int64{}
	}
	return null.Int64From(t.UnixMilli())
}
