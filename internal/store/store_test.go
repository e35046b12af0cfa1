package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null"

	"tradelab/internal/domain"
	"tradelab/internal/ledger"
	"tradelab/internal/summary"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", "us", 2024)
	assert.Equal(t, filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet"), got)
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 50000000, TradeCount: 500000, VWAP: 185.25},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 3), Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 45000000, TradeCount: 450000, VWAP: 185.75},
	}
	require.NoError(t, ps.WriteBars(ctx, bars))

	got, err := ps.ReadBars(ctx, "AAPL", "us", day(2024, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 185.5, got[0].Close)
	assert.Equal(t, 186.0, got[1].Close)
	assert.Equal(t, int64(500000), got[0].TradeCount)
	assert.True(t, got[0].Timestamp.Equal(day(2024, 1, 2)))
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 3, 1), Close: 403.0},
	}))
	require.NoError(t, ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 3, 4), Close: 408.0},
		{Symbol: "MSFT", Timestamp: day(2024, 3, 1), Close: 404.0},
	}))

	got, err := ps.ReadBars(ctx, "MSFT", "us", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 404.0, got[0].Close, "incoming bar replaces the stored one")
	assert.Equal(t, 408.0, got[1].Close)
}

func TestParquetStoreReadAcrossYears(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "SPY", Timestamp: day(2022, 12, 30), Close: 1},
		{Symbol: "SPY", Timestamp: day(2023, 6, 1), Close: 2},
		{Symbol: "SPY", Timestamp: day(2024, 1, 2), Close: 3},
	}))

	all, err := ps.ReadBars(ctx, "spy", "us", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
	}

	mid, err := ps.ReadBars(ctx, "SPY", "us", day(2023, 1, 1), day(2023, 12, 31))
	require.NoError(t, err)
	require.Len(t, mid, 1)
	assert.Equal(t, 2.0, mid[0].Close)

	none, err := ps.ReadBars(ctx, "QQQ", "us", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "GOOGL", Timestamp: day(2024, 1, 2), Close: 140.5},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Close: 185.5},
	}))

	symbols, err := ps.ListSymbols(ctx, "us")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOGL"}, symbols)

	empty, err := ps.ListSymbols(ctx, "cn")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestCSVStoreReadBars(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL.csv", `Timestamp,Open,High,Low,Close,Volume
2024-01-02,10,11,9,10.5,1000
2024-01-03T00:00:00Z,10.5,12,10,11.5,2000

2024-01-04,11.5,12,11,11.75,
`)
	cs := NewCSVStore(dir)

	bars, err := cs.ReadBars(context.Background(), "aapl", "us", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, int64(2000), bars[1].Volume)
	assert.Equal(t, int64(0), bars[2].Volume)
	assert.True(t, bars[1].Timestamp.Equal(day(2024, 1, 3)))

	ranged, err := cs.ReadBars(context.Background(), "AAPL", "us", day(2024, 1, 3), day(2024, 1, 3))
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 11.5, ranged[0].Close)
}

func TestCSVStoreErrors(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BAD.csv", "timestamp,open,high,low,close\n2024-01-02,1,1,1,abc\n")
	writeCSV(t, dir, "NOCLOSE.csv", "timestamp,open,high,low\n2024-01-02,1,1,1\n")
	writeCSV(t, dir, "NAN.csv", "timestamp,open,high,low,close\n2024-01-02,1,1,1,NaN\n")
	writeCSV(t, dir, "INF.csv", "timestamp,open,high,low,close\n2024-01-02,+Inf,1,1,1\n")
	writeCSV(t, dir, "TS.csv", "timestamp,open,high,low,close\nyesterday,1,1,1,1\n")
	cs := NewCSVStore(dir)
	ctx := context.Background()

	_, err := cs.ReadBars(ctx, "BAD", "", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "bad close")

	_, err = cs.ReadBars(ctx, "NAN", "", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "bad close")
	assert.ErrorContains(t, err, "not a finite number")

	_, err = cs.ReadBars(ctx, "INF", "", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "bad open")

	_, err = cs.ReadBars(ctx, "NOCLOSE", "", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, `missing column "close"`)

	_, err = cs.ReadBars(ctx, "TS", "", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "bad timestamp")

	_, err = cs.ReadBars(ctx, "MISSING", "", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func sampleRun(id string, started time.Time) *Run {
	buy := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	closedTrade := ledger.Trade{
		Symbol: "AAPL",
		Status: ledger.StatusClosed,
		Buy:    ledger.Entry{Timestamp: buy, Price: 10, Qty: 100, Cost: 1000},
		Sell:   &ledger.Exit{Timestamp: buy.Add(48 * time.Hour), Price: 12, Revenue: 1200},
		Profit: &ledger.Profit{Amt: 200, Pct: 20},
		Stats:  &ledger.Stats{TimeHeld: 2880},
	}
	forced := closedTrade
	forced.Status = ledger.StatusForceClosed
	forced.Buy.Timestamp = buy.Add(72 * time.Hour)
	forced.Sell = &ledger.Exit{Timestamp: buy.Add(96 * time.Hour), Price: 9, Revenue: 900}
	forced.Profit = &ledger.Profit{Amt: -100, Pct: -10}
	forced.Stats = &ledger.Stats{TimeHeld: 1440}

	return &Run{
		ID:       id,
		Strategy: "sma-cross",
		Market:   "us",
		Capital:  1000,
		Begin:    day(2024, 1, 1),
		Started:  started,
		Finished: started.Add(time.Second),
		Instruments: []InstrumentRun{
			{
				Symbol: "AAPL",
				Bars:   5,
				Trades: []ledger.Trade{closedTrade, forced},
				Summary: &summary.Summary{
					Symbol:          "AAPL",
					Trades:          2,
					TotalProfitAmt:  100,
					TotalProfitPct:  10,
					WinCount:        1,
					LossCount:       1,
					WinPct:          50,
					LossPct:         50,
					AvgWinAmt:       null.Float64From(200),
					AvgLossAmt:      null.Float64From(-100),
					AvgWinPct:       null.Float64From(20),
					AvgLossPct:      null.Float64From(-10),
					AvgTradesPerDay: null.Float64{},
					BuyHoldQty:      null.Float64From(100),
					BuyHoldAmt:      null.Float64From(-100),
					BuyHoldPct:      null.Float64From(-0.1),
					ForceClosed:     1,
					FirstClose:      10,
					LastClose:       9,
				},
			},
			{Symbol: "MSFT", Err: "MSFT sell at 2024-01-02T00:00:00Z: no open trade"},
		},
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", started)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "sma-cross", got.Strategy)
	assert.True(t, got.Begin.Equal(day(2024, 1, 1)))
	assert.True(t, got.End.IsZero())
	assert.True(t, got.Started.Equal(started))
	require.Len(t, got.Instruments, 2)

	aapl := got.Instruments[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, 5, aapl.Bars)
	require.Len(t, aapl.Trades, 2)
	assert.Equal(t, ledger.StatusClosed, aapl.Trades[0].Status)
	assert.Equal(t, ledger.StatusForceClosed, aapl.Trades[1].Status)
	assert.Equal(t, int64(100), aapl.Trades[0].Buy.Qty)
	require.NotNil(t, aapl.Trades[0].Sell)
	assert.Equal(t, 1200.0, aapl.Trades[0].Sell.Revenue)
	assert.Equal(t, 2880.0, aapl.Trades[0].Stats.TimeHeld)
	assert.Equal(t, -100.0, aapl.Trades[1].Profit.Amt)

	require.NotNil(t, aapl.Summary)
	assert.Equal(t, 1, aapl.Summary.ForceClosed)
	assert.Equal(t, null.Float64From(-100), aapl.Summary.AvgLossAmt)
	assert.Equal(t, null.Float64From(-0.1), aapl.Summary.BuyHoldPct)
	assert.False(t, aapl.Summary.AvgTradesPerDay.Valid)

	msft := got.Instruments[1]
	assert.Equal(t, "MSFT", msft.Symbol)
	assert.NotEmpty(t, msft.Err)
	assert.Empty(t, msft.Trades)
	assert.Nil(t, msft.Summary)
}

func TestSQLiteStoreUndefinedBuyHold(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	run := sampleRun("run-nobh", day(2024, 5, 1))
	sm := run.Instruments[0].Summary
	sm.BuyHoldQty, sm.BuyHoldAmt, sm.BuyHoldPct = null.Float64{}, null.Float64{}, null.Float64{}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-nobh")
	require.NoError(t, err)
	require.NotNil(t, got.Instruments[0].Summary)
	assert.False(t, got.Instruments[0].Summary.BuyHoldQty.Valid)
	assert.False(t, got.Instruments[0].Summary.BuyHoldAmt.Valid)
	assert.False(t, got.Instruments[0].Summary.BuyHoldPct.Valid)
}

func TestSQLiteStoreOpenTradeRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	run := &Run{
		ID: "run-open", Strategy: "rsi", Market: "us", Capital: 500,
		Started: day(2024, 1, 1), Finished: day(2024, 1, 1),
		Instruments: []InstrumentRun{{
			Symbol: "X",
			Trades: []ledger.Trade{{
				Symbol: "X",
				Status: ledger.StatusOpen,
				Buy:    ledger.Entry{Timestamp: day(2024, 1, 1), Price: 5, Qty: 100, Cost: 500},
			}},
		}},
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-open")
	require.NoError(t, err)
	tr := got.Instruments[0].Trades[0]
	assert.True(t, tr.IsOpen())
	assert.Nil(t, tr.Sell)
	assert.Nil(t, tr.Profit)
	assert.Nil(t, tr.Stats)
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Nil(t, runs[0].Instruments)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStoreErrors(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	run := sampleRun("dup", day(2024, 1, 1))
	require.NoError(t, s.SaveRun(ctx, run))
	assert.Error(t, s.SaveRun(ctx, run))

	// The failed save rolled back; the original is intact.
	got, err := s.GetRun(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, got.Instruments, 2)
}
