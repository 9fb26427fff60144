package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/grimoire/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print sources as they are created",
	Long: `Follow the server's source stream and print each new source.
Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Watching %s for new sources...\n", httpClient.Endpoint())
	err := httpClient.StreamSources(ctx, func(s models.Source) error {
		fmt.Printf("%s  %-4s %s  %s\n", s.CreatedAt.Local().Format("15:04:05"), s.Type, s.ID, s.Name)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
