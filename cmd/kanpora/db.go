package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/database"
)

// NewDBCmd creates the db command and its subcommands.
func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the kanpora database",
		Long: `Manage the database surveys are stored in.

SQLite is used by default, stored in the XDG data directory
(~/.local/share/kanpora/kanpora.db on Linux). Set storage.driver to postgres
and storage.dsn (or KANPORA_DB_DSN) to use PostgreSQL instead.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database and its tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Database ready (%s): %s\n", s.db.Driver(), location(s))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that the database is reachable and its tables exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.db.Check(cmd.Context()); err != nil {
				return fmt.Errorf("database check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database OK (%s): %s\n", s.db.Driver(), location(s))
			return nil
		},
	})

	drop := &cobra.Command{
		Use:   "drop",
		Short: "Drop every kanpora table and its data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return err
			}
			if !yes {
				return errors.New("dropping deletes every survey and listing; re-run with --yes to confirm")
			}

			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.db.DropTables(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Dropped all tables. Run 'kanpora db init' to recreate them.")
			return nil
		},
	}
	drop.Flags().BoolP("yes", "y", false, "Confirm dropping all tables")
	cmd.AddCommand(drop)

	return cmd
}

// location describes where the session's database lives without leaking
// a postgres password.
func location(s *session) string {
	if s.db.Driver() == database.DriverPostgres {
		return "postgres server"
	}
	return database.Path(database.Options{Driver: s.cfg.DBDriver, DSN: s.cfg.DBDSN, Dir: s.cfg.DBDir})
}
