package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/model"
)

// NewSurveyCmd creates the survey command and its subcommands.
func NewSurveyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "survey",
		Short: "Manage, run and export surveys",
		Long: `A survey is one crawl of a search area at a point in time.

Examples:
  # Create a survey of an area, by area name or id
  kanpora survey add "Île de Ré" --description "spring 2026"

  # Run it; an interrupted or stalled survey resumes on the next run
  kanpora survey run 1

  # Export its listings
  kanpora survey export 1 --format csv -o exports/

  # Compare it with a later survey of the same area
  kanpora survey compare 1 2`,
	}

	cmd.AddCommand(newSurveyAddCmd())
	cmd.AddCommand(newSurveyListCmd())
	cmd.AddCommand(newSurveyDeleteCmd())
	cmd.AddCommand(NewSurveyRunCmd())
	cmd.AddCommand(NewSurveyExportCmd())
	cmd.AddCommand(NewSurveyCompareCmd())

	return cmd
}

func newSurveyAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add AREA",
		Short: "Add a pending survey of a search area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, err := cmd.Flags().GetString("description")
			if err != nil {
				return err
			}
			comment, err := cmd.Flags().GetString("comment")
			if err != nil {
				return err
			}
			roomType, err := cmd.Flags().GetString("room-type")
			if err != nil {
				return err
			}

			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			area, err := resolveArea(cmd.Context(), s.db, args[0])
			if err != nil {
				return err
			}

			sv, err := s.db.AddSurvey(cmd.Context(), model.Survey{
				SearchAreaID: area.ID,
				Description:  description,
				Comment:      comment,
				RoomType:     roomType,
				Status:       model.SurveyPending,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added survey %d of %s\n", sv.ID, area.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "\nUse 'kanpora survey run %d' to start it.\n", sv.ID)
			return nil
		},
	}

	cmd.Flags().StringP("description", "d", "", "Survey description")
	cmd.Flags().String("comment", "", "Free-form comment")
	cmd.Flags().String("room-type", "", "Restrict the survey to one room type")

	return cmd
}

func newSurveyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List surveys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			areaArg, err := cmd.Flags().GetString("area")
			if err != nil {
				return err
			}

			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			var areaID int64
			if areaArg != "" {
				area, err := resolveArea(cmd.Context(), s.db, areaArg)
				if err != nil {
					return err
				}
				areaID = area.ID
			}

			surveys, err := s.db.ListSurveys(cmd.Context(), areaID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(surveys) == 0 {
				fmt.Fprintln(out, "No surveys found.")
				fmt.Fprintln(out, "\nUse 'kanpora survey add <area>' to create one.")
				return nil
			}

			fmt.Fprintf(out, "Surveys (%d):\n\n", len(surveys))
			fmt.Fprintf(out, "  %-6s  %-6s  %-16s  %-10s  %8s  %8s  %7s  %s\n",
				"ID", "Area", "Date", "Status", "Expected", "Saved", "Done", "Description")
			fmt.Fprintln(out, "  "+strings.Repeat("-", 86))
			for _, sv := range surveys {
				fmt.Fprintf(out, "  %-6d  %-6d  %-16s  %-10s  %8d  %8d  %6.1f%%  %s\n",
					sv.ID, sv.SearchAreaID, sv.Date.Local().Format("2006-01-02 15:04"), sv.Status,
					sv.ExpectedCount, sv.TotalSaved, 100*sv.Completeness(), sv.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringP("area", "a", "", "Only list surveys of this area (id or name)")

	return cmd
}

func newSurveyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID...",
		Aliases: []string{"rm"},
		Short:   "Delete surveys with their listings and resume logs",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, id := range ids {
				if err := s.db.DeleteSurvey(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to delete survey %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted survey %d\n", id)
			}
			return nil
		},
	}
}
