package cli

import (
	"github.com/spf13/cobra"

	"tradelab/internal/report"
)

func (a *app) strategiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List available strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report.New(cmd.OutOrStdout(), false).Strategies(a.registry().List())
		},
	}
}
