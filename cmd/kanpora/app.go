package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/config"
	"github.com/nao1215/kanpora/internal/database"
	klog "github.com/nao1215/kanpora/internal/log"
)

// loadConfig builds the configuration of a command: defaults, then the
// YAML file, then the environment (and .env), then the global flags.
// A config file given with --config must exist; the default locations are
// optional.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	explicitConfigPath := path != ""
	configPath := config.FindConfigFile(path)

	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
		cfg.ConfigFilePath = configPath
	case explicitConfigPath:
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	config.ApplyEnv(cfg)

	cfg.Verbose, err = cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		cfg.LogFormat = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-file"); f != nil && f.Changed {
		cfg.LogFile = f.Value.String()
	}

	return cfg, nil
}

// newLogger creates the logger of a command and makes it the default.
// The returned closer flushes the log file.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := klog.New(klog.Options{
		Writer:  cmd.ErrOrStderr(),
		Verbose: cfg.Verbose,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// openDB opens the configured database. With create unset a missing
// SQLite file is reported instead of being created.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger, create bool) (*database.DB, error) {
	db, err := database.Open(ctx, database.Options{
		Driver:            cfg.DBDriver,
		DSN:               cfg.DBDSN,
		Dir:               cfg.DBDir,
		CreateIfNotExists: create,
		EnableWAL:         true,
		Logger:            logger,
	})
	if err != nil {
		if errors.Is(err, database.ErrDatabaseNotFound) {
			return nil, fmt.Errorf("%w (run 'kanpora db init' first)", err)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// session bundles what most subcommands need.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.DB
	closer io.Closer
}

// newSession loads the configuration, sets up logging and opens the
// database. Close releases all three.
func newSession(cmd *cobra.Command, create bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cmd.Context(), cfg, logger, create)
	if err != nil {
		_ = closer.Close() //nolint:errcheck // already failing
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, db: db, closer: closer}, nil
}

// Close closes the database and the log file.
func (s *session) Close() error {
	dbErr := s.db.Close()
	logErr := s.closer.Close()
	return errors.Join(dbErr, logErr)
}

// parseIDs converts positional arguments to database ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q: must be a positive integer", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
