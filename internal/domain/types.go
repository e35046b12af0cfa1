// Package domain defines the market data and signal types shared by the
// data sources, strategies, and the trade ledger.
package domain

import (
	"fmt"
	"time"
)

// Market identifies the exchange group a symbol trades on. It selects the
// directory layout used by the bar archive.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one sampling interval of OHLCV data for a single symbol. Bars are
// immutable once produced by a data source.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// SignalType is the direction of a strategy signal.
type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
)

// Valid reports whether t is one of the known signal types.
func (t SignalType) Valid() bool {
	return t == SignalTypeBuy || t == SignalTypeSell
}

// Signal is emitted by a strategy for a specific bar. A strategy returns at
// most one Signal per bar.
type Signal struct {
	Symbol     string
	Type       SignalType
	Bar        Bar
	StrategyID string
	Reason     string
}

// String renders the signal for log lines.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s @ %.2f (%s)", s.Type, s.Symbol, s.Bar.Close,
		s.Bar.Timestamp.UTC().Format(time.RFC3339))
}

// NewBuy returns a buy signal for bar.
func NewBuy(strategyID string, bar Bar, reason string) *Signal {
	return &Signal{Symbol: bar.Symbol, Type: SignalTypeBuy, Bar: bar, StrategyID: strategyID, Reason: reason}
}

// NewSell returns a sell signal for bar.
func NewSell(strategyID string, bar Bar, reason string) *Signal {
	return &Signal{Symbol: bar.Symbol, Type: SignalTypeSell, Bar: bar, StrategyID: strategyID, Reason: reason}
}
