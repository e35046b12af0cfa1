package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null"

	"tradelab/internal/ledger"
	"tradelab/internal/store"
	"tradelab/internal/summary"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func sampleRun() *store.Run {
	closed := ledger.Trade{
		Symbol: "AAA",
		Status: ledger.StatusClosed,
		Buy:    ledger.Entry{Timestamp: t0, Price: 10, Qty: 100, Cost: 1000},
		Sell:   &ledger.Exit{Timestamp: t0.AddDate(0, 0, 2), Price: 12, Revenue: 1200},
		Profit: &ledger.Profit{Amt: 200, Pct: 20},
		Stats:  &ledger.Stats{TimeHeld: 2880},
	}
	forced := ledger.Trade{
		Symbol: "AAA",
		Status: ledger.StatusForceClosed,
		Buy:    ledger.Entry{Timestamp: t0.AddDate(0, 0, 3), Price: 50, Qty: 20, Cost: 1000},
		Sell:   &ledger.Exit{Timestamp: t0.AddDate(0, 0, 5), Price: 45, Revenue: 900},
		Profit: &ledger.Profit{Amt: -100, Pct: -10},
		Stats:  &ledger.Stats{TimeHeld: 2880},
	}
	return &store.Run{
		ID:       "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Strategy: "sma-cross",
		Market:   "us",
		Capital:  1000,
		Begin:    t0,
		Started:  t0,
		Finished: t0,
		Instruments: []store.InstrumentRun{
			{
				Symbol: "AAA",
				Bars:   6,
				Trades: []ledger.Trade{closed, forced},
				Summary: &summary.Summary{
					Symbol: "AAA", Trades: 2,
					TotalProfitAmt: 100, TotalProfitPct: 10,
					WinCount: 1, LossCount: 1, WinPct: 50, LossPct: 50,
					AvgWinAmt: null.Float64From(200), AvgLossAmt: null.Float64From(-100),
					AvgWinPct: null.Float64From(20), AvgLossPct: null.Float64From(-10),
					AvgTimeHeldMinutes: 2880,
					AvgTradesPerDay:    null.Float64From(2.0 / 3),
					BuyHoldQty:         null.Float64From(100),
					BuyHoldAmt:         null.Float64From(-5),
					BuyHoldPct:         null.Float64From(-0.005),
					ForceClosed:        1,
				},
			},
			{Symbol: "BBB", Bars: 3},
			{Symbol: "CCC", Err: "CCC sell at 2024-01-02T00:00:00Z: signal protocol violation: sell with no open trade"},
		},
	}
}

func TestRunText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, false).Run(sampleRun()))
	out := buf.String()

	assert.Contains(t, out, "Run 01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Contains(t, out, "strategy=sma-cross market=us capital=1000.00 range=2024-01-02..*")
	assert.Contains(t, out, "Total profit")
	assert.Contains(t, out, "100.00")
	assert.Contains(t, out, "0.67")
	assert.Contains(t, out, "-0.50")
	assert.Contains(t, out, "Assumed closed")
	assert.Contains(t, out, "no trades")
	assert.Contains(t, out, "error: CCC sell")
	assert.NotContains(t, out, "2024-01-04", "trade rows are verbose only")
	assert.NotContains(t, out, "\x1b[", "no ANSI codes when writing to a buffer")
}

func TestRunTextVerbose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, true).Run(sampleRun()))
	out := buf.String()

	assert.Contains(t, out, "2024-01-04")
	assert.Contains(t, out, "assumed closed")
	assert.Contains(t, out, "2880.00m (2d0h0m)")
	assert.Contains(t, out, "-100.00")
}

func TestUndefinedFieldsRenderNA(t *testing.T) {
	run := sampleRun()
	run.Instruments = run.Instruments[:1]
	s := run.Instruments[0].Summary
	s.AvgLossAmt = null.Float64{}
	s.AvgLossPct = null.Float64{}
	s.AvgTradesPerDay = null.Float64{}
	s.BuyHoldQty = null.Float64{}
	s.BuyHoldAmt = null.Float64{}
	s.BuyHoldPct = null.Float64{}

	var buf bytes.Buffer
	require.NoError(t, New(&buf, false).Run(run))
	assert.Contains(t, buf.String(), NA)
	assert.NotContains(t, buf.String(), "-0.50", "undefined buy & hold is not printed as a number")
	assert.NotContains(t, buf.String(), "NaN")
}

func TestRunList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, false).RunList(nil))
	assert.Equal(t, "no runs\n", buf.String())

	buf.Reset()
	require.NoError(t, New(&buf, false).RunList([]store.Run{*sampleRun()}))
	assert.Contains(t, buf.String(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Contains(t, buf.String(), "sma-cross")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sampleRun()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "sma-cross", got["strategy"])
	assert.NotContains(t, got, "end")

	insts := got["instruments"].([]any)
	require.Len(t, insts, 3)
	aaa := insts[0].(map[string]any)
	trades := aaa["trades"].([]any)
	assert.Equal(t, "assumed closed", trades[1].(map[string]any)["status"])

	bbb := insts[1].(map[string]any)
	assert.Nil(t, bbb["summary"])
	ccc := insts[2].(map[string]any)
	assert.Contains(t, ccc["error"], "no open trade")
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "1.00", Money(0.999))
	assert.Equal(t, "-3.33", Money(-3.333))
	assert.Equal(t, NA, Optional(null.Float64{}))
	assert.Equal(t, "2.50", Optional(null.Float64From(2.5)))
	assert.Equal(t, "90.00m (0d1h30m)", Held(90))
	assert.Equal(t, "*..2024-01-02", dateRange(time.Time{}, t0))
}
