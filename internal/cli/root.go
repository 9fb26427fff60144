// Package cli provides the command-line interface for grimoire.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/grimoire/internal/client"
	"github.com/raphaelgruber/grimoire/internal/config"
)

// quietLevel is above every level the code logs at; used to keep stderr
// clean while the interactive form owns the terminal.
const quietLevel = slog.LevelError + 4

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config, logger and API client
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	httpClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "grimoire",
	Short: "Collect files and links into your grimoire",
	Long: `Grimoire collects reference material - uploaded files and web links -
as sources on a Grimoire server.

Stage files and URLs in the interactive upload form, or pass them as
arguments to upload straight away.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}

		setupLogger(stderrLevel())
		httpClient = client.New(cfg.ServerURL, cfg.ClientTimeout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

func stderrLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// setupLogger (re)builds the CLI logger with the given stderr level.
// The log file always receives cfg.LogLevel and above.
func setupLogger(level slog.Level) {
	if closeLog != nil {
		_ = closeLog()
	}
	logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, level)
	slog.SetDefault(logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (overrides GRIMOIRE_SERVER_URL)")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
}
