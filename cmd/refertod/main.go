// Command refertod serves the medical report upload and summary API and
// extracts report text from the command line.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/referto-app/referto/config"
	"github.com/referto-app/referto/observability"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "refertod: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &serveFlags{}
	root := &cobra.Command{
		Use:   "refertod",
		Short: "Medical report text extraction and summary service",
		Long: `refertod extracts the text of medical reports (PDF, images, text, DOCX,
XLSX), summarizes it with Gemini and exports Word and PDF reports.

Without a subcommand it runs the HTTP server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	flags.register(root)

	root.AddCommand(newServeCommand())
	root.AddCommand(newExtractCommand())
	return root
}

// newLogger writes to stderr and, when cfg.LogFile is set, appends to it.
func newLogger(cfg config.Config, stderr io.Writer) (*observability.LogrusLogger, io.Closer, error) {
	if cfg.LogFile == "" {
		return observability.NewLogrus(cfg.LogLevel, stderr), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return observability.NewLogrus(cfg.LogLevel, io.MultiWriter(stderr, f)), f, nil
}
