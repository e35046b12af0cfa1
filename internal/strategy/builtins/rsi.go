package builtins

import (
	"context"
	"fmt"
	"math"

	"github.com/thrasher-corp/gct-ta/indicators"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSI)(nil)

// rsiWindowFactor sizes the close history as a multiple of the period. The
// smoothed averages have converged well before that many bars.
const rsiWindowFactor = 10

// RSI buys when the relative strength index falls to or below the low
// threshold and sells the position when it reaches the high threshold.
type RSI struct {
	period    int
	low, high float64

	closes []float64
	long   bool
}

// NewRSI creates an RSI strategy over period bars.
func NewRSI(period int, low, high float64) *RSI {
	return &RSI{period: period, low: low, high: high}
}

// Name returns "rsi".
func (s *RSI) Name() string {
	return "rsi"
}

// Init validates the thresholds and resets the price history.
func (s *RSI) Init(_ context.Context) error {
	if s.period < 2 {
		return fmt.Errorf("rsi: period must be at least 2, got %d", s.period)
	}
	if !(0 <= s.low && s.low < s.high && s.high <= 100) {
		return fmt.Errorf("rsi: need 0 <= low < high <= 100, got low=%v high=%v", s.low, s.high)
	}
	s.closes = make([]float64, 0, s.window()+1)
	s.long = false
	return nil
}

func (s *RSI) window() int {
	return s.period * rsiWindowFactor
}

// OnBar appends the close and compares the latest RSI with the thresholds.
// The RSI is computed over the trailing window of closes.
func (s *RSI) OnBar(_ context.Context, bar domain.Bar) (*domain.Signal, error) {
	s.closes = keepLast(append(s.closes, bar.Close), s.window())
	if len(s.closes) <= s.period+1 {
		return nil, nil
	}

	out := indicators.RSI(s.closes, s.period)
	if len(out) == 0 {
		return nil, nil
	}
	v := out[len(out)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}

	switch {
	case !s.long && v <= s.low:
		s.long = true
		return domain.NewBuy(s.Name(), bar, fmt.Sprintf("rsi%d at %.2f", s.period, v)), nil
	case s.long && v >= s.high:
		s.long = false
		return domain.NewSell(s.Name(), bar, fmt.Sprintf("rsi%d at %.2f", s.period, v)), nil
	}
	return nil, nil
}
