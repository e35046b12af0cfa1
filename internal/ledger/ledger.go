package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"tradelab/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Ledger is the append-ordered trade history of one symbol. The current trade
// is always the last element. A Ledger is not safe for concurrent use; each
// symbol's replay owns its own.
type Ledger struct {
	symbol  string
	capital decimal.Decimal
	rawCap  float64
	capOK   bool
	trades  []Trade
}

// New returns an empty ledger for symbol. Every buy is sized from the same
// capital; profits are not compounded into later trades. A capital that is
// negative or not finite makes every buy fail with ErrInvalidCapital.
func New(symbol string, capital float64) *Ledger {
	l := &Ledger{symbol: symbol, rawCap: capital}
	if finite(capital) && capital >= 0 {
		l.capital = decimal.NewFromFloat(capital)
		l.capOK = true
	}
	return l
}

// Symbol returns the symbol the ledger records.
func (l *Ledger) Symbol() string { return l.symbol }

// Len returns the number of trades recorded.
func (l *Ledger) Len() int { return len(l.trades) }

// HasOpen reports whether the last trade is still open.
func (l *Ledger) HasOpen() bool {
	return len(l.trades) > 0 && l.trades[len(l.trades)-1].IsOpen()
}

// Trades returns a copy of the recorded trades in order.
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	for i := range l.trades {
		out[i] = l.trades[i].clone()
	}
	return out
}

// Apply consumes one signal: a buy opens a trade, a sell closes the open one.
// Signals that the current state cannot accept return a *ProtocolError and
// leave the ledger unchanged.
func (l *Ledger) Apply(sig domain.Signal) error {
	if !sig.Type.Valid() {
		return l.violation(sig, ErrInvalidSignal)
	}
	if sig.Symbol != l.symbol {
		return l.violation(sig, ErrSymbolMismatch)
	}
	if last := l.lastEvent(); !last.IsZero() && sig.Bar.Timestamp.Before(last) {
		return l.violation(sig, ErrOutOfOrder)
	}

	switch sig.Type {
	case domain.SignalTypeBuy:
		return l.open(sig)
	default:
		return l.close(sig)
	}
}

// Reconcile force-closes a trade still open after the bar stream ended, using
// last as the exit bar. It reports whether a trade was closed. Reconciling a
// ledger that is empty or already fully closed changes nothing. A last bar
// with an invalid close leaves the trade open and returns ErrInvalidPrice.
func (l *Ledger) Reconcile(last domain.Bar) (bool, error) {
	if !l.HasOpen() {
		return false, nil
	}
	if !validExit(last.Close) {
		return false, l.priceError("reconcile", last)
	}
	l.settle(&l.trades[len(l.trades)-1], last, StatusForceClosed)
	return true, nil
}

func (l *Ledger) open(sig domain.Signal) error {
	if l.HasOpen() {
		return l.violation(sig, ErrTradeAlreadyOpen)
	}
	if !(sig.Bar.Close > 0) || math.IsInf(sig.Bar.Close, 0) {
		return l.priceError("buy", sig.Bar)
	}
	if !l.capOK {
		return fmt.Errorf("%s buy: %w (capital=%v)", l.symbol, ErrInvalidCapital, l.rawCap)
	}

	price := decimal.NewFromFloat(sig.Bar.Close)
	qty := int64(0)
	if l.capital.IsPositive() {
		qty = l.capital.Div(price).Floor().IntPart()
	}
	cost, _ := price.Mul(decimal.NewFromInt(qty)).Round(2).Float64()

	l.trades = append(l.trades, Trade{
		Symbol: l.symbol,
		Status: StatusOpen,
		Buy: Entry{
			Timestamp: sig.Bar.Timestamp,
			Price:     sig.Bar.Close,
			Qty:       qty,
			Cost:      cost,
		},
	})
	return nil
}

func (l *Ledger) close(sig domain.Signal) error {
	if !l.HasOpen() {
		return l.violation(sig, ErrNoOpenTrade)
	}
	if !validExit(sig.Bar.Close) {
		return l.priceError("sell", sig.Bar)
	}
	l.settle(&l.trades[len(l.trades)-1], sig.Bar, StatusClosed)
	return nil
}

// settle fills the sell side, profit and hold time of t from bar.
func (l *Ledger) settle(t *Trade, bar domain.Bar, status Status) {
	cost := decimal.NewFromFloat(t.Buy.Cost)
	revenue := decimal.NewFromFloat(bar.Close).Mul(decimal.NewFromInt(t.Buy.Qty))
	amt := revenue.Sub(cost)

	// A zero-quantity trade has zero cost and zero profit.
	pct := decimal.Zero
	if !cost.IsZero() {
		pct = amt.Div(cost).Mul(hundred)
	}

	rev, _ := revenue.Float64()
	amtF, _ := amt.Float64()
	pctF, _ := pct.Float64()

	t.Status = status
	t.Sell = &Exit{Timestamp: bar.Timestamp, Price: bar.Close, Revenue: rev}
	t.Profit = &Profit{Amt: amtF, Pct: pctF}
	t.Stats = &Stats{TimeHeld: bar.Timestamp.Sub(t.Buy.Timestamp).Minutes()}
}

func (l *Ledger) priceError(op string, bar domain.Bar) error {
	return fmt.Errorf("%s %s at %s: %w (close=%v)", l.symbol, op,
		bar.Timestamp.UTC().Format(time.RFC3339), ErrInvalidPrice, bar.Close)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validExit accepts any finite non-negative close; a position can be worth 0.
func validExit(c float64) bool {
	return finite(c) && c >= 0
}

// lastEvent is the most recent buy or sell time, zero for an empty ledger.
func (l *Ledger) lastEvent() time.Time {
	if len(l.trades) == 0 {
		return time.Time{}
	}
	t := l.trades[len(l.trades)-1]
	if t.Sell != nil {
		return t.Sell.Timestamp
	}
	return t.Buy.Timestamp
}

func (l *Ledger) violation(sig domain.Signal, err error) error {
	return &ProtocolError{
		Symbol:    l.symbol,
		Timestamp: sig.Bar.Timestamp,
		Type:      sig.Type,
		Err:       err,
	}
}
