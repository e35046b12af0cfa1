// Package summary computes the performance record of a finished replay from
// its reconciled trades and the symbol's close series.
package summary

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null"

	"tradelab/internal/ledger"
)

var (
	// ErrNoTrades is returned for a ledger with zero trades. Callers skip the
	// summary for that symbol rather than report NaN values.
	ErrNoTrades = errors.New("no trades to summarize")

	// ErrUnreconciled is returned when a trade is still open.
	ErrUnreconciled = errors.New("ledger has an open trade")

	// ErrNoPrices is returned when the close series is empty.
	ErrNoPrices = errors.New("close series is empty")

	// ErrNonFinite is returned when the benchmark inputs (first close, last
	// close or capital) are NaN or infinite.
	ErrNonFinite = errors.New("non-finite value in buy-and-hold inputs")
)

// Summary is the aggregate result for one symbol. Values are full precision;
// rounding is left to the output layer. Fields that can be undefined for a
// particular trade set are null.Float64 and invalid in that case.
type Summary struct {
	Symbol string `json:"symbol"`
	Trades int    `json:"trades"`

	TotalProfitAmt float64 `json:"total_profit_amt"`
	TotalProfitPct float64 `json:"total_profit_pct"`

	WinCount  int     `json:"win_count"`
	LossCount int     `json:"loss_count"`
	WinPct    float64 `json:"win_pct"`
	LossPct   float64 `json:"loss_pct"`

	AvgWinAmt  null.Float64 `json:"avg_win_amt"`
	AvgLossAmt null.Float64 `json:"avg_loss_amt"`
	AvgWinPct  null.Float64 `json:"avg_win_pct"`
	AvgLossPct null.Float64 `json:"avg_loss_pct"`

	AvgTimeHeldMinutes float64      `json:"avg_time_held_minutes"`
	AvgTradesPerDay    null.Float64 `json:"avg_trades_per_day"`

	// Buy-and-hold figures are undefined when the first close is not positive.
	BuyHoldQty null.Float64 `json:"buy_hold_qty"`
	BuyHoldAmt null.Float64 `json:"buy_hold_amt"`
	BuyHoldPct null.Float64 `json:"buy_hold_pct"` // fraction of the first close, not x100

	ForceClosed int     `json:"force_closed"`
	FirstClose  float64 `json:"first_close"`
	LastClose   float64 `json:"last_close"`
}

// IsWin reports whether a closed trade counts as a winner. A trade with
// exactly zero profit counts as a win.
func IsWin(t ledger.Trade) bool {
	return t.Profit == nil || !(t.Profit.Amt < 0)
}

// Calculate reduces trades into a Summary. closes is the full close series
// the strategy saw, used for the buy-and-hold benchmark; capital is the
// per-symbol starting capital.
func Calculate(symbol string, trades []ledger.Trade, closes []float64, capital float64) (*Summary, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoTrades)
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoPrices)
	}

	s := &Summary{Symbol: symbol, Trades: len(trades)}

	var (
		winAmt, lossAmt float64
		winPct, lossPct float64
		held            float64
	)
	for i, t := range trades {
		if t.IsOpen() || t.Profit == nil || t.Stats == nil {
			return nil, fmt.Errorf("%s trade %d: %w", symbol, i, ErrUnreconciled)
		}
		if t.AssumedClosed() {
			s.ForceClosed++
		}

		s.TotalProfitAmt += t.Profit.Amt
		s.TotalProfitPct += t.Profit.Pct
		held += t.Stats.TimeHeld

		if IsWin(t) {
			s.WinCount++
			winAmt += t.Profit.Amt
			winPct += t.Profit.Pct
		} else {
			s.LossCount++
			lossAmt += t.Profit.Amt
			lossPct += t.Profit.Pct
		}
	}

	n := float64(s.Trades)
	s.WinPct = float64(s.WinCount) / n * 100
	s.LossPct = 100 - s.WinPct
	s.AvgWinAmt = mean(winAmt, s.WinCount)
	s.AvgWinPct = mean(winPct, s.WinCount)
	s.AvgLossAmt = mean(lossAmt, s.LossCount)
	s.AvgLossPct = mean(lossPct, s.LossCount)
	s.AvgTimeHeldMinutes = held / n
	s.AvgTradesPerDay = tradesPerDay(trades)

	s.FirstClose = closes[0]
	s.LastClose = closes[len(closes)-1]
	var err error
	s.BuyHoldQty, s.BuyHoldAmt, s.BuyHoldPct, err = buyAndHold(s.FirstClose, s.LastClose, capital)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	return s, nil
}

func mean(sum float64, count int) null.Float64 {
	if count == 0 {
		return null.Float64{}
	}
	return null.Float64From(sum / float64(count))
}

// tradesPerDay divides the trade count by the days between the first and
// last buy. It is undefined when every buy happened at the same instant.
func tradesPerDay(trades []ledger.Trade) null.Float64 {
	span := trades[len(trades)-1].Buy.Timestamp.Sub(trades[0].Buy.Timestamp)
	days := span.Hours() / 24
	if span <= 0 || days == 0 {
		return null.Float64{}
	}
	return null.Float64From(float64(len(trades)) / days)
}

// buyAndHold sizes a position at the first close with the quantity floored to
// two decimals and marks it to the last close. All three results are invalid
// when the first close is not positive.
func buyAndHold(first, last, capital float64) (qty, amt, pct null.Float64, err error) {
	for _, v := range []float64{first, last, capital} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return qty, amt, pct, fmt.Errorf("%w (first=%v last=%v capital=%v)", ErrNonFinite, first, last, capital)
		}
	}
	if first <= 0 {
		return qty, amt, pct, nil
	}
	f := decimal.NewFromFloat(first)
	q := decimal.NewFromFloat(capital).Div(f).Shift(2).Floor().Shift(-2)
	move := decimal.NewFromFloat(last).Sub(f)

	qf, _ := q.Float64()
	af, _ := move.Mul(q).Float64()
	pf, _ := move.Div(f).Float64()
	return null.Float64From(qf), null.Float64From(af), null.Float64From(pf), nil
}

// Duration converts a minutes figure to a time.Duration for display.
func Duration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
