package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/gather/us"
	"tradelab/internal/report"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

type backtestFlags struct {
	strategy string
	symbols  []string
	market   string
	source   string
	capital  float64
	begin    string
	end      string
	verbose  bool
	json     bool
	workers  int
}

func (a *app) backtestCommand() *cobra.Command {
	var f backtestFlags
	cmd := &cobra.Command{
		Use:   "backtest [SYMBOL...]",
		Short: "Replay a strategy over historical bars",
		Example: `  tradelab backtest --strategy sma-cross AAPL MSFT
  tradelab backtest -s rsi --source csv --begin 2020-01-01 --end 2023-12-31 -v SPY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.symbols = append(f.symbols, args...)
			return a.runBacktest(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.strategy, "strategy", "s", "", "strategy name (see 'tradelab strategies')")
	fl.StringSliceVar(&f.symbols, "symbols", nil, "comma-separated symbols")
	fl.StringVar(&f.market, "market", "", "market of the symbols")
	fl.StringVar(&f.source, "source", "", "bar source: parquet, csv or alpaca")
	fl.Float64Var(&f.capital, "capital", 0, "per-symbol starting capital")
	fl.StringVar(&f.begin, "begin", "", "first day, YYYY-MM-DD")
	fl.StringVar(&f.end, "end", "", "last day, YYYY-MM-DD")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "list every trade and log signals")
	fl.BoolVar(&f.json, "json", false, "print the run as JSON")
	fl.IntVar(&f.workers, "workers", 0, "symbols replayed concurrently")
	return cmd
}

// apply overlays flags the user set onto the backtest section.
func (f backtestFlags) apply(cmd *cobra.Command, b *config.Backtest) {
	fl := cmd.Flags()
	if f.strategy != "" {
		b.Strategy = f.strategy
	}
	if len(f.symbols) > 0 {
		b.Symbols = f.symbols
	}
	if f.market != "" {
		b.Market = f.market
	}
	if f.source != "" {
		b.Source = strings.ToLower(f.source)
	}
	if fl.Changed("capital") {
		b.Capital = f.capital
	}
	if fl.Changed("begin") {
		b.Begin = f.begin
	}
	if fl.Changed("end") {
		b.End = f.end
	}
	if fl.Changed("verbose") {
		b.Verbose = f.verbose
	}
	if f.workers > 0 {
		b.Workers = f.workers
	}
}

func (a *app) runBacktest(cmd *cobra.Command, f backtestFlags) error {
	f.apply(cmd, &a.cfg.Backtest)
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	b := a.cfg.Backtest
	begin, end, err := b.Range()
	if err != nil {
		return err
	}
	if b.Verbose && a.logLevel == "" {
		a.setLogger(cmd, "debug")
	}

	src, err := a.barSource(b.Source)
	if err != nil {
		return err
	}
	bt := strategy.NewBacktester(src, a.registry())
	bt.SetLogger(a.log)
	bt.SetWorkers(b.Workers)

	rep, err := bt.Run(cmd.Context(), strategy.Params{
		Strategy: b.Strategy,
		Symbols:  b.Symbols,
		Market:   b.Market,
		Begin:    begin,
		End:      config.EndOfDay(end),
		Capital:  b.Capital,
	})
	if err != nil {
		return err
	}
	for _, res := range rep.Failed() {
		a.log.Warn("symbol failed", "symbol", res.Symbol, "error", res.Err)
	}

	run := rep.Record()
	db, err := a.openRuns()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := db.SaveRun(cmd.Context(), run); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		a.log.Info("run saved", "run", run.ID, "db", a.cfg.Storage.SQLitePath)
	}

	if f.json {
		return report.JSON(cmd.OutOrStdout(), run)
	}
	return report.New(cmd.OutOrStdout(), b.Verbose).Run(run)
}

// barSource builds the configured store.BarReader.
func (a *app) barSource(source string) (store.BarReader, error) {
	switch source {
	case config.SourceParquet:
		return store.NewParquetStore(a.cfg.Storage.DataDir), nil
	case config.SourceCSV:
		return store.NewCSVStore(a.cfg.Storage.CSVDir), nil
	case config.SourceAlpaca:
		if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca source needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return us.NewBarSource(a.alpacaOpts(), a.cfg.Gather.RateLimitPerMin), nil
	}
	return nil, fmt.Errorf("unknown bar source %q", source)
}

func (a *app) alpacaOpts() us.ClientOpts {
	return us.ClientOpts{
		APIKey:    a.cfg.Alpaca.APIKey,
		APISecret: a.cfg.Alpaca.APISecret,
		DataURL:   a.cfg.Alpaca.DataURL,
		Feed:      a.cfg.Alpaca.Feed,
	}
}
