package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"tradelab/internal/api"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve backtests over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr()
			}
			b := a.cfg.Backtest

			src, err := a.barSource(b.Source)
			if err != nil {
				return err
			}
			reg := a.registry()
			bt := strategy.NewBacktester(src, reg)
			bt.SetLogger(a.log)
			bt.SetWorkers(b.Workers)

			var runs store.RunStore
			db, err := a.openRuns()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
				runs = db
			}

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			srv := api.NewServer(bt, reg, runs, strategy.Params{Market: b.Market, Capital: b.Capital}, a.log)
			return srv.Serve(cmd.Context(), lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.host:server.grpc_port)")
	return cmd
}
