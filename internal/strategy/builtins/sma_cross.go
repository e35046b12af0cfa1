// Package builtins provides the strategy implementations that ship with
// tradelab.
package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	closes []float64
	long   bool
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init validates the periods and resets the price history.
func (s *SMACross) Init(_ context.Context) error {
	if s.shortPeriod < 1 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: need 0 < short < long, got short=%d long=%d", s.shortPeriod, s.longPeriod)
	}
	s.closes = make([]float64, 0, s.longPeriod+2)
	s.long = false
	return nil
}

// OnBar appends the close and signals on a crossover of the two averages.
// Only the last longPeriod+1 closes are kept; that is enough for the current
// and previous value of both averages.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) (*domain.Signal, error) {
	s.closes = keepLast(append(s.closes, bar.Close), s.longPeriod+1)
	if len(s.closes) <= s.longPeriod {
		return nil, nil
	}

	short := indicators.SMA(s.closes, s.shortPeriod)
	long := indicators.SMA(s.closes, s.longPeriod)
	if len(short) < 2 || len(long) < 2 {
		return nil, nil
	}
	prevShort, curShort := short[len(short)-2], short[len(short)-1]
	prevLong, curLong := long[len(long)-2], long[len(long)-1]

	switch {
	case !s.long && prevShort <= prevLong && curShort > curLong:
		s.long = true
		return domain.NewBuy(s.Name(), bar, fmt.Sprintf("sma%d %.4f crossed above sma%d %.4f",
			s.shortPeriod, curShort, s.longPeriod, curLong)), nil
	case s.long && prevShort >= prevLong && curShort < curLong:
		s.long = false
		return domain.NewSell(s.Name(), bar, fmt.Sprintf("sma%d %.4f crossed below sma%d %.4f",
			s.shortPeriod, curShort, s.longPeriod, curLong)), nil
	}
	return nil, nil
}

// keepLast trims closes in place to its last n values.
func keepLast(closes []float64, n int) []float64 {
	if len(closes) <= n {
		return closes
	}
	return append(closes[:0], closes[len(closes)-n:]...)
}
