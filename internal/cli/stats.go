package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := httpClient.GetStats(context.Background())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		return printJSON(stats)
	},
}
