package cli

import (
	"github.com/spf13/cobra"

	"tradelab/internal/report"
)

func (a *app) runsCommand() *cobra.Command {
	var (
		limit   int
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored backtest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.requireRuns()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return report.JSON(cmd.OutOrStdout(), runs)
			}
			return report.New(cmd.OutOrStdout(), false).RunList(runs)
		},
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.requireRuns()
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return report.JSON(cmd.OutOrStdout(), run)
			}
			return report.New(cmd.OutOrStdout(), verbose).Run(run)
		},
	}
	show.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every trade")
	cmd.AddCommand(show)
	return cmd
}
