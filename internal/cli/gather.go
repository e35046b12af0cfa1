package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/gather"
	"tradelab/internal/gather/us"
	"tradelab/internal/store"
)

func (a *app) gatherCommand() *cobra.Command {
	var (
		symbols []string
		start   string
		end     string
	)
	cmd := &cobra.Command{
		Use:   "gather [SYMBOL...]",
		Short: "Download daily bars from Alpaca into the Parquet archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols = append(symbols, args...)
			gc := a.cfg.Gather
			if len(symbols) > 0 {
				gc.Symbols = symbols
			}
			if start != "" {
				gc.StartDate = start
			}
			if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
				return fmt.Errorf("gather needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
			}

			var rng gather.DateRange
			var err error
			if rng.Start, err = config.ParseDate(gc.StartDate); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			if rng.End, err = config.ParseDate(end); err != nil {
				return fmt.Errorf("end: %w", err)
			}
			rng.End = config.EndOfDay(rng.End)

			upper := make([]string, len(gc.Symbols))
			for i, s := range gc.Symbols {
				upper[i] = strings.ToUpper(s)
			}

			g := us.NewDailyBarGatherer(a.alpacaOpts(), a.cfg.Alpaca.BaseURL,
				store.NewParquetStore(a.cfg.Storage.DataDir), us.GatherOpts{
					Symbols:         upper,
					Range:           rng,
					BatchSize:       gc.BatchSize,
					MaxWorkers:      gc.MaxWorkers,
					RateLimitPerMin: gc.RateLimitPerMin,
				})
			g.SetLogger(a.log)

			res, err := g.Gather(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bars for %d symbols written to %s\n",
				res.Bars, res.Hits, a.cfg.Storage.DataDir)
			if len(res.Empty) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no data: %s\n", strings.Join(res.Empty, ", "))
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d batches failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma-separated symbols (default gather.symbols)")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default gather.start_date)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default latest finished trading day)")
	return cmd
}
