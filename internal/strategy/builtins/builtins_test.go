package builtins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

func feed(t *testing.T, s strategy.Strategy, closes []float64) []*domain.Signal {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var sigs []*domain.Signal
	for i, c := range closes {
		bar := domain.Bar{Symbol: "TEST", Timestamp: t0.AddDate(0, 0, i), Close: c}
		sig, err := s.OnBar(ctx, bar)
		require.NoError(t, err)
		if sig != nil {
			assert.Equal(t, "TEST", sig.Symbol)
			assert.Equal(t, s.Name(), sig.StrategyID)
			assert.NotEmpty(t, sig.Reason)
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// assertAlternates checks that signals start with a buy and never repeat a
// direction.
func assertAlternates(t *testing.T, sigs []*domain.Signal) {
	t.Helper()
	for i, sig := range sigs {
		want := domain.SignalTypeBuy
		if i%2 == 1 {
			want = domain.SignalTypeSell
		}
		assert.Equal(t, want, sig.Type, "signal %d", i)
	}
}

func TestSMACrossSignals(t *testing.T) {
	closes := []float64{10, 10, 10, 11, 12, 13, 12, 10, 8}
	sigs := feed(t, NewSMACross(2, 3), closes)

	require.Len(t, sigs, 2)
	assertAlternates(t, sigs)
	assert.Equal(t, 11.0, sigs[0].Bar.Close)
	assert.Equal(t, 10.0, sigs[1].Bar.Close)
}

func TestSMACrossNoSignalDuringWarmup(t *testing.T) {
	sigs := feed(t, NewSMACross(2, 5), []float64{1, 2, 3, 4, 5})
	assert.Empty(t, sigs)
}

func TestSMACrossHistoryIsBounded(t *testing.T) {
	s := NewSMACross(2, 3)
	closes := make([]float64, 500)
	for i := range closes {
		closes[i] = 10 + float64(i%7)
	}
	sigs := feed(t, s, closes)
	assert.NotEmpty(t, sigs)
	assertAlternates(t, sigs)
	assert.Len(t, s.closes, 4)
	assert.Equal(t, closes[len(closes)-4:], s.closes)
}

func TestSMACrossSignalsRepeatAfterTrimming(t *testing.T) {
	pattern := []float64{10, 10, 10, 11, 12, 13, 12, 10, 8}
	var closes []float64
	for i := 0; i < 20; i++ {
		closes = append(closes, pattern...)
	}
	sigs := feed(t, NewSMACross(2, 3), closes)
	require.Len(t, sigs, 40)
	assertAlternates(t, sigs)

	// After the first repetition every buy lands on offset 1 and every sell
	// on offset 7 of the pattern.
	t0 := sigs[0].Bar.Timestamp.AddDate(0, 0, -3)
	for i, sig := range sigs[2:] {
		day := int(sig.Bar.Timestamp.Sub(t0).Hours() / 24)
		want := 1
		if i%2 == 1 {
			want = 7
		}
		assert.Equal(t, want, day%len(pattern), "signal %d", i+2)
	}
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	assert.Error(t, NewSMACross(5, 5).Init(context.Background()))
	assert.Error(t, NewSMACross(0, 3).Init(context.Background()))
}

func TestRSISignals(t *testing.T) {
	var closes []float64
	p := 100.0
	for i := 0; i < 20; i++ {
		p--
		closes = append(closes, p)
	}
	for i := 0; i < 30; i++ {
		p++
		closes = append(closes, p)
	}

	sigs := feed(t, NewRSI(14, 30, 70), closes)
	require.Len(t, sigs, 2)
	assertAlternates(t, sigs)
	assert.True(t, sigs[0].Bar.Timestamp.Before(sigs[1].Bar.Timestamp))
}

func TestRSIHistoryIsBounded(t *testing.T) {
	s := NewRSI(5, 30, 70)
	var closes []float64
	p := 100.0
	for cycle := 0; cycle < 20; cycle++ {
		for i := 0; i < 15; i++ {
			p--
			closes = append(closes, p)
		}
		for i := 0; i < 15; i++ {
			p++
			closes = append(closes, p)
		}
	}
	sigs := feed(t, s, closes)
	assertAlternates(t, sigs)
	assert.GreaterOrEqual(t, len(sigs), 20, "keeps signalling long after the window filled")
	assert.Len(t, s.closes, 50)
	assert.Equal(t, closes[len(closes)-50:], s.closes)
}

func TestRSIRejectsBadThresholds(t *testing.T) {
	assert.Error(t, NewRSI(14, 70, 30).Init(context.Background()))
	assert.Error(t, NewRSI(1, 30, 70).Init(context.Background()))
	assert.NoError(t, NewRSI(14, 30, 70).Init(context.Background()))
}

func TestRegister(t *testing.T) {
	r := NewRegistry(Settings{})
	assert.Equal(t, []string{"rsi", "sma-cross"}, r.List())

	s, err := r.New("sma-cross")
	require.NoError(t, err)
	sma := s.(*SMACross)
	assert.Equal(t, 10, sma.shortPeriod)
	assert.Equal(t, 30, sma.longPeriod)

	r = NewRegistry(Settings{SMAShort: 3, SMALong: 7, RSIPeriod: 9, RSILow: 20, RSIHigh: 80})
	s, err = r.New("rsi")
	require.NoError(t, err)
	rsi := s.(*RSI)
	assert.Equal(t, 9, rsi.period)
	assert.Equal(t, 20.0, rsi.low)
	assert.Equal(t, 80.0, rsi.high)
}

func TestStrategiesReplayThroughBacktester(t *testing.T) {
	closes := []float64{10, 10, 10, 11, 12, 13, 12, 10, 8, 9, 11, 13}
	src := newStaticSource("SPY", closes)

	r := NewRegistry(Settings{SMAShort: 2, SMALong: 3})
	rep, err := strategy.NewBacktester(src, r).Run(context.Background(), strategy.Params{
		Strategy: "sma-cross",
		Symbols:  []string{"SPY"},
		Capital:  1000,
	})
	require.NoError(t, err)
	res := rep.Results[0]
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Trades)
	for _, tr := range res.Trades {
		assert.NotNil(t, tr.Sell, "every trade is closed after the run")
	}
	require.NotNil(t, res.Summary)
	assert.Equal(t, len(res.Trades), res.Summary.WinCount+res.Summary.LossCount)
}

type staticSource struct {
	bars []domain.Bar
}

func (b staticSource) ReadBars(context.Context, string, string, time.Time, time.Time) ([]domain.Bar, error) {
	return b.bars, nil
}

func newStaticSource(symbol string, closes []float64) staticSource {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := staticSource{}
	for i, c := range closes {
		out.bars = append(out.bars, domain.Bar{Symbol: symbol, Timestamp: t0.AddDate(0, 0, i), Close: c})
	}
	return out
}
