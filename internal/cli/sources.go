package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/grimoire/internal/models"
)

var (
	sourcesLimit int
	sourcesJSON  bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources [source-id]",
	Short: "List sources or show one source",
	Long: `List the newest sources, or show a single source by ID.

Examples:
  grimoire sources            # List the 50 newest sources
  grimoire sources -n 10      # List the 10 newest sources
  grimoire sources abc123     # Show source abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSources,
}

func init() {
	sourcesCmd.Flags().IntVarP(&sourcesLimit, "limit", "n", 50, "max results")
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "print JSON")
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showSource(ctx, args[0])
	}
	return listSources(ctx)
}

func listSources(ctx context.Context) error {
	sources, err := httpClient.ListSources(ctx, sourcesLimit)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	if sourcesJSON {
		return printJSON(sources)
	}

	if len(sources) == 0 {
		fmt.Println("No sources found")
		return nil
	}

	fmt.Printf("%-36s %-5s %-20s %s\n", "ID", "TYPE", "CREATED", "NAME")
	fmt.Println("------------------------------------------------------------------------------------")
	for _, s := range sources {
		fmt.Printf("%-36s %-5s %-20s %s\n", s.ID, s.Type, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Name)
	}
	fmt.Printf("\n%d source(s)\n", len(sources))
	return nil
}

func showSource(ctx context.Context, id string) error {
	src, err := httpClient.GetSource(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("source %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("get source: %w", err)
	}

	if sourcesJSON {
		return printJSON(src)
	}

	fmt.Printf("ID:       %s\n", src.ID)
	fmt.Printf("Type:     %s\n", src.Type)
	fmt.Printf("Name:     %s\n", src.Name)
	if src.Type == models.SourceTypeFile {
		fmt.Printf("Key:      %s\n", src.URL)
	} else {
		fmt.Printf("URL:      %s\n", src.URL)
	}
	fmt.Printf("Created:  %s\n", src.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
