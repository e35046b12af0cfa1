package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"tradelab/internal/domain"
	"tradelab/internal/ledger"
	"tradelab/internal/store"
	"tradelab/internal/summary"
)

var (
	// ErrConfiguration marks a run that could not start: no strategy, no
	// symbols or invalid parameters. Nothing is replayed.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataSource marks a bar retrieval failure. The whole run fails and no
	// result is produced for any symbol.
	ErrDataSource = errors.New("data source error")
)

// DefaultCapital is the per-symbol starting capital when none is configured.
const DefaultCapital = 1000.0

// Params selects what a Backtester replays.
type Params struct {
	Strategy string
	Symbols  []string
	Market   string
	Begin    time.Time // zero: all available history
	End      time.Time // zero: all available history
	Capital  float64
}

// normalize upper-cases symbols and fills the default market.
func (p Params) normalize() Params {
	out := p
	out.Symbols = make([]string, len(p.Symbols))
	for i, s := range p.Symbols {
		out.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if out.Market == "" {
		out.Market = string(domain.MarketUS)
	}
	return out
}

// Validate checks p after normalization. All failures wrap ErrConfiguration.
func (p Params) Validate() error {
	if p.Strategy == "" {
		return fmt.Errorf("%w: no strategy", ErrConfiguration)
	}
	if len(p.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols", ErrConfiguration)
	}
	seen := make(map[string]bool, len(p.Symbols))
	for _, s := range p.Symbols {
		if s == "" {
			return fmt.Errorf("%w: empty symbol", ErrConfiguration)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrConfiguration, s)
		}
		seen[s] = true
	}
	if !(p.Capital > 0) || math.IsInf(p.Capital, 0) {
		return fmt.Errorf("%w: capital must be positive and finite, got %v", ErrConfiguration, p.Capital)
	}
	if !p.Begin.IsZero() && !p.End.IsZero() && p.Begin.After(p.End) {
		return fmt.Errorf("%w: begin %s is after end %s", ErrConfiguration,
			p.Begin.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	return nil
}

// InstrumentResult is the outcome of replaying one symbol. When Err is set the
// symbol produced no trades and no summary.
type InstrumentResult struct {
	Symbol   string
	Bars     int
	FirstBar time.Time
	LastBar  time.Time
	Closes   []float64

	Trades  []ledger.Trade
	Summary *summary.Summary // nil when the symbol had no trades
	Err     error
}

// Report is the outcome of one Backtester.Run.
type Report struct {
	RunID    string
	Params   Params
	Started  time.Time
	Finished time.Time

	// Results are in the order of Params.Symbols.
	Results []InstrumentResult
}

// Failed returns the results that ended with an error.
func (r *Report) Failed() []InstrumentResult {
	var out []InstrumentResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Record converts the report into its persisted form.
func (r *Report) Record() *store.Run {
	run := &store.Run{
		ID:          r.RunID,
		Strategy:    r.Params.Strategy,
		Market:      r.Params.Market,
		Capital:     r.Params.Capital,
		Begin:       r.Params.Begin,
		End:         r.Params.End,
		Started:     r.Started,
		Finished:    r.Finished,
		Instruments: make([]store.InstrumentRun, len(r.Results)),
	}
	for i, res := range r.Results {
		inst := store.InstrumentRun{
			Symbol:  res.Symbol,
			Bars:    res.Bars,
			Trades:  res.Trades,
			Summary: res.Summary,
		}
		if res.Err != nil {
			inst.Err = res.Err.Error()
		}
		run.Instruments[i] = inst
	}
	return run
}

// Backtester replays historical bar data through a strategy and records the
// resulting trades per symbol.
type Backtester struct {
	source   store.BarReader
	registry *Registry
	log      *slog.Logger
	workers  int
}

// NewBacktester creates a Backtester that reads bars from source and builds
// strategies from registry.
func NewBacktester(source store.BarReader, registry *Registry) *Backtester {
	return &Backtester{
		source:   source,
		registry: registry,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:  4,
	}
}

// SetLogger sets the logger used for run progress and per-signal debug lines.
func (bt *Backtester) SetLogger(l *slog.Logger) {
	bt.log = l.With("component", "backtest")
}

// SetWorkers bounds how many symbols are replayed at once.
func (bt *Backtester) SetWorkers(n int) {
	if n > 0 {
		bt.workers = n
	}
}

// Run replays every symbol in p through a fresh instance of the strategy.
//
// All bars are loaded before any replay starts; a load failure aborts the run
// with ErrDataSource and a nil report. Failures during one symbol's replay are
// recorded on that symbol's result and do not affect the others.
func (bt *Backtester) Run(ctx context.Context, p Params) (*Report, error) {
	p = p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !bt.registry.Has(p.Strategy) {
		return nil, fmt.Errorf("%w: %w %q", ErrConfiguration, ErrUnknownStrategy, p.Strategy)
	}

	rep := &Report{
		RunID:   ulid.Make().String(),
		Params:  p,
		Started: time.Now().UTC(),
		Results: make([]InstrumentResult, len(p.Symbols)),
	}
	log := bt.log.With("run", rep.RunID, "strategy", p.Strategy)
	log.Info("backtest starting", "symbols", len(p.Symbols), "capital", p.Capital)

	bars, err := bt.load(ctx, p)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bt.workers)
	for i, sym := range p.Symbols {
		g.Go(func() error {
			rep.Results[i] = bt.safeReplay(gctx, log, p, sym, bars[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep.Finished = time.Now().UTC()
	log.Info("backtest finished", "failed", len(rep.Failed()), "elapsed", rep.Finished.Sub(rep.Started))
	return rep, nil
}

// load fetches every symbol's bars concurrently.
func (bt *Backtester) load(ctx context.Context, p Params) ([][]domain.Bar, error) {
	out := make([][]domain.Bar, len(p.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bt.workers)
	for i, sym := range p.Symbols {
		g.Go(func() error {
			bars, err := bt.source.ReadBars(gctx, sym, p.Market, p.Begin, p.End)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrDataSource, sym, err)
			}
			out[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// safeReplay turns a panic inside one symbol's replay, typically from
// strategy code, into that symbol's error.
func (bt *Backtester) safeReplay(ctx context.Context, log *slog.Logger, p Params, sym string, bars []domain.Bar) (res InstrumentResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("replay panicked: %v", r)
			log.Error("replay failed", "symbol", sym, "error", err)
			res = InstrumentResult{Symbol: sym, Bars: len(bars), Err: err}
		}
	}()
	return bt.replay(ctx, log, p, sym, bars)
}

// replay feeds one symbol's bars through a new strategy instance and reduces
// the resulting ledger.
func (bt *Backtester) replay(ctx context.Context, log *slog.Logger, p Params, sym string, bars []domain.Bar) InstrumentResult {
	res := InstrumentResult{Symbol: sym, Bars: len(bars)}
	log = log.With("symbol", sym)

	fail := func(err error) InstrumentResult {
		log.Warn("replay failed", "error", err)
		res.Trades = nil
		res.Summary = nil
		res.Err = err
		return res
	}

	strat, err := bt.registry.New(p.Strategy)
	if err != nil {
		return fail(err)
	}
	if err := strat.Init(ctx); err != nil {
		return fail(fmt.Errorf("init %s: %w", p.Strategy, err))
	}

	l := ledger.New(sym, p.Capital)
	res.Closes = make([]float64, 0, len(bars))
	var last domain.Bar
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		bar.Symbol = sym
		res.Closes = append(res.Closes, bar.Close)
		last = bar

		sig, err := strat.OnBar(ctx, bar)
		if err != nil {
			return fail(fmt.Errorf("%s at %s: %w", p.Strategy, bar.Timestamp.Format(time.RFC3339), err))
		}
		if sig == nil {
			continue
		}
		if err := l.Apply(*sig); err != nil {
			return fail(err)
		}
		log.Debug("signal", "signal", sig.String(), "reason", sig.Reason)
	}

	if len(bars) > 0 {
		res.FirstBar = bars[0].Timestamp
		res.LastBar = last.Timestamp
		closed, err := l.Reconcile(last)
		if err != nil {
			return fail(err)
		}
		if closed {
			log.Debug("assumed closed at last bar", "close", last.Close, "at", last.Timestamp)
		}
	}
	res.Trades = l.Trades()

	if len(res.Trades) == 0 {
		log.Info("no trades")
		return res
	}
	s, err := summary.Calculate(sym, res.Trades, res.Closes, p.Capital)
	if err != nil {
		return fail(err)
	}
	res.Summary = s
	log.Info("replay done", "trades", s.Trades, "profit", s.TotalProfitAmt)
	return res
}
