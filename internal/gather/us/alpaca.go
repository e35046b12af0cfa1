package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradelab/internal/domain"
	"tradelab/internal/gather"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var (
	_ gather.Gatherer = (*DailyBarGatherer)(nil)
	_ store.BarReader = (*BarSource)(nil)
)

// DefaultStart is used when a request has no start bound.
var DefaultStart = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

// barClient is the subset of *marketdata.Client used here.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// ClientOpts holds Alpaca credentials and endpoints.
type ClientOpts struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "sip" or "iex"
}

func newMarketDataClient(o ClientOpts) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    o.APIKey,
		APISecret: o.APISecret,
	}
	if o.DataURL != "" {
		opts.BaseURL = o.DataURL
	}
	return marketdata.NewClient(opts)
}

func feedOrDefault(feed string) marketdata.Feed {
	if feed == "" {
		feed = "sip"
	}
	return marketdata.Feed(feed)
}

// ---------------------------------------------------------------------------
// BarSource: daily bars straight from the Alpaca API.
// ---------------------------------------------------------------------------

// BarSource reads daily bars from the Alpaca market-data API on demand.
type BarSource struct {
	client   barClient
	feed     marketdata.Feed
	limiter  *util.RateLimiter
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewBarSource creates a BarSource. rateLimitPerMin <= 0 disables limiting.
func NewBarSource(o ClientOpts, rateLimitPerMin int) *BarSource {
	return newBarSource(newMarketDataClient(o), o.Feed, rateLimitPerMin)
}

func newBarSource(c barClient, feed string, rateLimitPerMin int) *BarSource {
	return &BarSource{
		client:   c,
		feed:     feedOrDefault(feed),
		limiter:  util.NewRateLimiter(rateLimitPerMin),
		attempts: 3,
		backoff:  500 * time.Millisecond,
		log:      slog.Default().With("source", "alpaca"),
	}
}

// ReadBars implements store.BarReader. market must be "us" or empty. A zero
// start reads from DefaultStart; a zero end reads up to now.
func (s *BarSource) ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error) {
	if market != "" && market != string(domain.MarketUS) {
		return nil, fmt.Errorf("alpaca serves the us market only, got %q", market)
	}
	if start.IsZero() {
		start = DefaultStart
	}
	sym := strings.ToUpper(symbol)
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      s.feed,
	}

	var raw []marketdata.Bar
	err := util.Retry(ctx, s.attempts, s.backoff, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = s.client.GetBars(sym, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", sym, err)
	}

	bars := convertBars(sym, raw)
	s.log.Debug("bars fetched", "symbol", sym, "count", len(bars))
	return bars, nil
}

func convertBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars
}

// ---------------------------------------------------------------------------
// DailyBarGatherer: archive daily OHLCV bars from Alpaca into Parquet.
// ---------------------------------------------------------------------------

// GatherOpts configures a DailyBarGatherer.
type GatherOpts struct {
	Symbols         []string
	Range           gather.DateRange
	BatchSize       int // symbols per API call
	MaxWorkers      int // concurrent batches
	RateLimitPerMin int
}

// DailyBarGatherer gathers daily bar data for a list of US equities via the
// Alpaca market-data API and writes it to a BarStore.
type DailyBarGatherer struct {
	client   barClient
	store    store.BarStore
	calendar func() (time.Time, error)
	opts     GatherOpts
	feed     marketdata.Feed
	limiter  *util.RateLimiter
	backoff  time.Duration
	log      *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer configured with the given
// Alpaca credentials and target store. baseURL is the trading API used for
// the calendar when no end date is given.
func NewDailyBarGatherer(o ClientOpts, baseURL string, s store.BarStore, opts GatherOpts) *DailyBarGatherer {
	cal := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    o.APIKey,
		APISecret: o.APISecret,
		BaseURL:   baseURL,
	})
	g := newDailyBarGatherer(newMarketDataClient(o), s, o.Feed, opts)
	g.calendar = func() (time.Time, error) {
		return LatestFinishedTradingDay(cal, time.Now())
	}
	return g
}

func newDailyBarGatherer(c barClient, s store.BarStore, feed string, opts GatherOpts) *DailyBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.Range.Start.IsZero() {
		opts.Range.Start = DefaultStart
	}
	return &DailyBarGatherer{
		client:  c,
		store:   s,
		opts:    opts,
		feed:    feedOrDefault(feed),
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		backoff: time.Second,
		log:     slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// SetLogger replaces the gatherer's logger.
func (g *DailyBarGatherer) SetLogger(l *slog.Logger) {
	g.log = l.With("gatherer", g.Name())
}

// Result summarises one gathering pass.
type Result struct {
	Bars   int64
	Hits   int64
	Empty  []string
	Failed int64 // batches that could not be fetched or written
}

// Run fetches the configured symbols in batches and writes them to the
// store. Re-running is idempotent: the store merges bars by timestamp.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	res, err := g.Gather(ctx)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d batches failed", res.Failed)
	}
	return nil
}

// Gather is Run with the per-pass counts returned.
func (g *DailyBarGatherer) Gather(ctx context.Context) (*Result, error) {
	if len(g.opts.Symbols) == 0 {
		return nil, errors.New("no symbols to gather")
	}

	end := g.opts.Range.End
	if end.IsZero() {
		if g.calendar == nil {
			return nil, errors.New("no end date and no trading calendar")
		}
		var err error
		if end, err = g.calendar(); err != nil {
			return nil, fmt.Errorf("determining end date: %w", err)
		}
	}
	start := g.opts.Range.Start
	if start.After(end) {
		return nil, fmt.Errorf("start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	symbols := make([]string, len(g.opts.Symbols))
	for i, s := range g.opts.Symbols {
		symbols[i] = strings.ToUpper(s)
	}
	var batches [][]string
	for i := 0; i < len(symbols); i += g.opts.BatchSize {
		batches = append(batches, symbols[i:min(i+g.opts.BatchSize, len(symbols))])
	}

	g.log.Info("starting",
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
		"symbols", len(symbols),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		res      Result
		total    atomic.Int64
		hits     atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.opts.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				label := fmt.Sprintf("%d/%d", batchIdx+1, len(batches))
				batch := batches[batchIdx]

				bars, err := g.fetchMultiBars(ctx, batch, start, end)
				if err != nil {
					g.log.Error("batch fetch failed", "batch", label, "err", err)
					failed.Add(1)
					continue
				}

				hitSymbols := make(map[string]struct{})
				for _, b := range bars {
					hitSymbols[b.Symbol] = struct{}{}
				}
				var empty []string
				for _, sym := range batch {
					if _, hit := hitSymbols[sym]; !hit {
						empty = append(empty, sym)
					}
				}

				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, bars); err != nil {
						g.log.Error("writing bars failed", "batch", label, "err", err)
						failed.Add(1)
						continue
					}
				}

				mu.Lock()
				res.Empty = append(res.Empty, empty...)
				mu.Unlock()
				total.Add(int64(len(bars)))
				hits.Add(int64(len(hitSymbols)))

				g.log.Info("batch done",
					"batch", label,
					"hits", len(hitSymbols),
					"empty", len(empty),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Bars = total.Load()
	res.Hits = hits.Load()
	res.Failed = failed.Load()
	g.log.Info("complete",
		"bars", res.Bars,
		"hits", res.Hits,
		"empty", len(res.Empty),
		"failed", res.Failed,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return &res, nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, g.backoff, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		multiBars, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      g.feed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		bars = append(bars, convertBars(strings.ToUpper(symbol), alpacaBars)...)
	}
	return bars, nil
}
