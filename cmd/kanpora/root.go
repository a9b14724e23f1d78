// Package main provides the entry point for the kanpora CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/survey"
)

// Exit codes of the CLI.
const (
	exitError   = 1
	exitStalled = 2
)

// NewRootCmd creates the root command for kanpora.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kanpora",
		Short: "Adaptive geospatial crawler for listing search services",
		Long: `kanpora surveys every listing of a search area on a paginated, rate-limited
listing search service.

A survey starts from the bounding box of its search area and splits every box
whose search saturates the page ceiling into four, until each box can be listed
in full. Listings are stored in a SQLite (default) or PostgreSQL database, and
interrupted surveys resume where they stopped.

Typical workflow:
  kanpora init
  kanpora area add "Île de Ré" --bbox 46.12,-1.58,46.26,-1.22
  kanpora survey add "Île de Ré"
  kanpora survey run 1
  kanpora survey export 1 --format csv`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: kanpora.yaml in current or XDG config directory)")
	cmd.PersistentFlags().String("log-format", "", "Console log format: text, color or json")
	cmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this rotating file")

	// Add subcommands
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewAreaCmd())
	cmd.AddCommand(NewSurveyCmd())
	cmd.AddCommand(NewDBCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit code. A stalled crawl
// exits with its own code so that schedulers can retry it later.
func exitCode(err error) int {
	if errors.Is(err, survey.ErrCrawlStalled) {
		return exitStalled
	}
	return exitError
}
