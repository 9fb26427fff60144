package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/grimoire/internal/form"
)

var (
	ingestURLs  []string
	ingestNoTUI bool
)

var ingestCmd = &cobra.Command{
	Use:     "ingest [files...]",
	Aliases: []string{"upload"},
	Short:   "Upload files and URLs as sources",
	Long: `Stage files and URLs and upload them to the server.

On a terminal the interactive upload form opens with the given files and
URLs already staged. Type a path or URL and press enter to add more,
ctrl+d to remove the selected item, and ctrl+s to upload.

Without a terminal (or with --no-tui) everything given is uploaded at once
and a summary is printed.

Examples:
  grimoire ingest
  grimoire ingest notes.md paper.pdf
  grimoire ingest --url https://go.dev/blog/ --url https://example.com
  grimoire ingest --no-tui *.pdf`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringArrayVarP(&ingestURLs, "url", "u", nil, "URL to stage (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestNoTUI, "no-tui", false, "upload immediately without the interactive form")
}

func runIngest(cmd *cobra.Command, args []string) error {
	interactive := !ingestNoTUI &&
		term.IsTerminal(int(os.Stdin.Fd())) &&
		term.IsTerminal(int(os.Stdout.Fd()))

	if interactive {
		// The form owns the terminal; log to the file only.
		setupLogger(quietLevel)
	}

	f := form.New(form.WithLogger(logger))
	if err := stage(f, args, ingestURLs); err != nil {
		return err
	}

	if interactive {
		reports, err := RunUploadForm(f, httpClient)
		if err != nil {
			return err
		}
		return failedErr(reports...)
	}

	if !f.CanSubmit() {
		return fmt.Errorf("nothing to upload: pass files or --url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Uploading to %s...\n", httpClient.Endpoint())
	report := f.Submit(ctx, httpClient)
	fmt.Print(renderReport(defaultTheme, report))
	return failedErr(report)
}

// stage adds the given files and URLs to the form. Files must exist.
func stage(f *form.Form, files, urls []string) error {
	selection := make([]form.Selection, 0, len(files))
	for _, path := range files {
		size, err := statRegularFile(path)
		if err != nil {
			return fmt.Errorf("stage %s: %w", path, err)
		}
		selection = append(selection, form.Selection{Path: path, Size: size})
	}
	f.AddFiles(selection)
	for _, u := range urls {
		f.AddURL(u)
	}
	return nil
}

func failedErr(reports ...form.Report) error {
	failed := 0
	for _, r := range reports {
		failed += r.Failed()
	}
	if failed > 0 {
		return fmt.Errorf("%d item(s) failed to upload", failed)
	}
	return nil
}
