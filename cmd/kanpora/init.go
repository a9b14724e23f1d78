package main

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/config"
)

//go:embed templates/kanpora.yaml
var configTemplate embed.FS

const templatePath = "templates/kanpora.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented kanpora configuration file",
		Long: `Init writes a configuration file holding every setting with its default
value and a comment explaining it.

kanpora reads its configuration from the --config path, else kanpora.yaml in
the current directory, else kanpora.yaml in the XDG config directory
(~/.config/kanpora on Linux). Secrets such as the API key or a PostgreSQL DSN
are better kept in the environment or a .env file (KANPORA_API_KEY,
KANPORA_DB_DSN).

Examples:
  # Create kanpora.yaml in the current directory
  kanpora init

  # Create the per-user configuration
  kanpora init --global

  # Print the template, for instance to merge it by hand
  kanpora init --stdout > kanpora.new.yaml`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile, "Output file path for the configuration")
	cmd.Flags().BoolP("global", "g", false, "Write to the XDG config directory instead")
	cmd.Flags().Bool("stdout", false, "Print the template instead of writing a file")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")
	cmd.MarkFlagsMutuallyExclusive("output", "global", "stdout")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	toStdout, err := cmd.Flags().GetBool("stdout")
	if err != nil {
		return err
	}
	if toStdout {
		_, err := cmd.OutOrStdout().Write(content)
		return err
	}

	outputPath, err := initOutputPath(cmd)
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if err := writeConfigFile(outputPath, content, force); err != nil {
		return err
	}
	// a template that does not load would break every later command
	if err := checkConfigFile(outputPath); err != nil {
		return fmt.Errorf("written configuration is invalid: %w", err)
	}

	printInitSummary(cmd.OutOrStdout(), outputPath)
	return nil
}

// initOutputPath returns the file init writes to.
func initOutputPath(cmd *cobra.Command) (string, error) {
	global, err := cmd.Flags().GetBool("global")
	if err != nil {
		return "", err
	}
	if global {
		return config.UserConfigFile(), nil
	}
	return cmd.Flags().GetString("output")
}

// writeConfigFile writes content to path with owner-only permissions. An
// existing file is kept unless force is set.
func writeConfigFile(path string, content []byte, force bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// the file may later hold an api key or proxy credentials
	f, err := os.OpenFile(path, flags, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", path)
		}
		return fmt.Errorf("failed to create configuration file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return f.Close()
}

// checkConfigFile loads path the way every command does and validates it.
func checkConfigFile(path string) error {
	fc, err := config.LoadConfigFile(path)
	if err != nil {
		return err
	}
	cfg := config.NewConfig()
	fc.Apply(cfg)
	return cfg.Validate()
}

func printInitSummary(w io.Writer, path string) {
	fmt.Fprintf(w, "Created configuration file: %s\n", path)

	if !discoverable(path) {
		fmt.Fprintf(w, "\nThis file is not searched automatically; pass it with --config %s\n", path)
	}

	fmt.Fprintln(w, "\nEdit this file to configure settings such as:")
	fmt.Fprintln(w, "  - Proxy and user agent pools")
	fmt.Fprintln(w, "  - Crawl workers, page ceiling and room types")
	fmt.Fprintln(w, "  - SQLite directory or PostgreSQL connection")
	fmt.Fprintln(w, "\nThen run 'kanpora db init' to create the database.")
}

// discoverable reports whether path is one of the files kanpora reads
// without --config.
func discoverable(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if abs == config.UserConfigFile() {
		return true
	}
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}
	return abs == filepath.Join(cwd, config.DefaultConfigFile)
}
