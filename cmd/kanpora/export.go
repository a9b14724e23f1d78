package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/database"
	"github.com/nao1215/kanpora/internal/report"
)

// NewSurveyExportCmd creates the survey export command.
func NewSurveyExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export ID...",
		Short: "Export the listings of surveys",
		Long: `Export writes the listings saved by each survey.

Formats:
  csv       one row per listing
  json      the survey, its area, room type counts and listings
  markdown  a summary with a room type chart and a listing table
  text      a terminal summary (default)

Without --output the export is written to stdout. With --output every survey
is written to its own file, named survey_<id>_<area>.<ext>, in that directory.

Examples:
  kanpora survey export 1
  kanpora survey export 1 2 --format csv -o exports/`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSurveyExportCmd,
	}

	cmd.Flags().StringP("format", "f", string(report.FormatText), "Output format: csv, json, markdown or text")
	cmd.Flags().StringP("output", "o", "", "Write one file per survey into this directory")

	return cmd
}

func runSurveyExportCmd(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	outputDir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	s, err := newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, id := range ids {
		e, err := loadExport(cmd.Context(), s.db, id)
		if err != nil {
			return err
		}

		if outputDir == "" {
			if err := writeExport(cmd.OutOrStdout(), format, e); err != nil {
				return err
			}
			continue
		}

		path := filepath.Join(outputDir, report.FileName(e, format))
		if err := writeFile(path, func(w io.Writer) error { return writeExport(w, format, e) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported survey %d (%d listings) to %s\n", id, len(e.Rooms), path)
	}
	return nil
}

// NewSurveyCompareCmd creates the survey compare command.
func NewSurveyCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare BEFORE AFTER",
		Short: "Show listings added, removed or changed between two surveys",
		Long: `Compare matches the listings of two surveys by listing id.

A listing is changed when the data returned by the search service differs
between the surveys (price, reviews, description, ...).

Examples:
  kanpora survey compare 1 2
  kanpora survey compare 1 2 --format markdown -o diff.md`,
		Args: cobra.ExactArgs(2),
		RunE: runSurveyCompareCmd,
	}

	cmd.Flags().StringP("format", "f", string(report.FormatText), "Output format: csv, json, markdown or text")
	cmd.Flags().StringP("output", "o", "", "Write the comparison to this file")

	return cmd
}

func runSurveyCompareCmd(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	s, err := newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	before, err := s.db.GetSurvey(ctx, ids[0])
	if err != nil {
		return err
	}
	after, err := s.db.GetSurvey(ctx, ids[1])
	if err != nil {
		return err
	}
	if before.SearchAreaID != after.SearchAreaID {
		s.logger.Warn("comparing surveys of different search areas",
			"before_area", before.SearchAreaID, "after_area", after.SearchAreaID)
	}

	beforeRooms, err := s.db.ListRooms(ctx, before.ID)
	if err != nil {
		return err
	}
	afterRooms, err := s.db.ListRooms(ctx, after.ID)
	if err != nil {
		return err
	}
	c := report.Compare(before, after, beforeRooms, afterRooms)

	write := func(w io.Writer) error {
		rw, err := report.NewWriter(format, w)
		if err != nil {
			return err
		}
		_, err = rw.WriteComparison(c)
		return err
	}

	if outputPath == "" {
		return write(cmd.OutOrStdout())
	}
	if err := writeFile(outputPath, write); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote comparison of surveys %d and %d to %s\n", before.ID, after.ID, outputPath)
	return nil
}

func formatFlag(cmd *cobra.Command) (report.Format, error) {
	v, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	return report.ParseFormat(v)
}

// loadExport reads a survey, its area and its rooms.
func loadExport(ctx context.Context, db *database.DB, id int64) (*report.Export, error) {
	sv, err := db.GetSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	area, err := db.GetSearchArea(ctx, sv.SearchAreaID)
	if err != nil {
		return nil, err
	}
	rooms, err := db.ListRooms(ctx, id)
	if err != nil {
		return nil, err
	}
	return report.NewExport(sv, area, rooms), nil
}

func writeExport(w io.Writer, format report.Format, e *report.Export) error {
	var rw report.Writer
	switch format {
	case report.FormatJSON:
		rw = report.NewJSONWriter(w, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	default:
		var err error
		if rw, err = report.NewWriter(format, w); err != nil {
			return err
		}
	}
	_, err := rw.Write(e)
	return err
}

// writeFile creates path with owner-only permissions and fills it with write.
func writeFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return write(f)
}
