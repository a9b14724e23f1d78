package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/database"
	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// NewAreaCmd creates the area command and its subcommands.
func NewAreaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "area",
		Aliases: []string{"search-area"},
		Short:   "Manage search areas",
		Long: `A search area is a named bounding box that surveys are run against.

Examples:
  # Add an area from a bounding box copied from bboxfinder.com (south,west,north,east)
  kanpora area add "Île de Ré" --bbox 46.12,-1.58,46.26,-1.22

  # Add an area from its four bounds
  kanpora area add Bayonne --north 43.51 --south 43.46 --east -1.43 --west -1.51

  # List areas
  kanpora area list`,
	}

	cmd.AddCommand(newAreaAddCmd())
	cmd.AddCommand(newAreaListCmd())
	cmd.AddCommand(newAreaDeleteCmd())

	return cmd
}

func newAreaAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a search area",
		Args:  cobra.ExactArgs(1),
		RunE:  runAreaAdd,
	}

	cmd.Flags().String("bbox", "", "Bounding box as south,west,north,east")
	cmd.Flags().Float64("north", 0, "Northern latitude bound")
	cmd.Flags().Float64("south", 0, "Southern latitude bound")
	cmd.Flags().Float64("east", 0, "Eastern longitude bound")
	cmd.Flags().Float64("west", 0, "Western longitude bound")
	cmd.MarkFlagsMutuallyExclusive("bbox", "north")
	cmd.MarkFlagsMutuallyExclusive("bbox", "south")
	cmd.MarkFlagsMutuallyExclusive("bbox", "east")
	cmd.MarkFlagsMutuallyExclusive("bbox", "west")
	cmd.MarkFlagsRequiredTogether("north", "south", "east", "west")
	cmd.MarkFlagsOneRequired("bbox", "north")

	return cmd
}

// boxFromFlags reads the area bounds from --bbox or the four bound flags.
func boxFromFlags(cmd *cobra.Command) (geo.GeoBox, error) {
	bbox, err := cmd.Flags().GetString("bbox")
	if err != nil {
		return geo.GeoBox{}, err
	}
	if bbox != "" {
		return geo.ParseBBoxFinder(bbox)
	}

	var bounds [4]float64
	for i, name := range []string{"north", "east", "south", "west"} {
		if bounds[i], err = cmd.Flags().GetFloat64(name); err != nil {
			return geo.GeoBox{}, err
		}
	}
	return geo.NewGeoBox(bounds[0], bounds[1], bounds[2], bounds[3])
}

func runAreaAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("area name must not be empty")
	}

	box, err := boxFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("invalid bounding box: %w", err)
	}

	s, err := newSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	area, err := s.db.AddSearchArea(cmd.Context(), model.NewSearchArea(name, box))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added search area %d: %s (%s)\n", area.ID, area.Name, area.Abbreviation)
	fmt.Fprintf(cmd.OutOrStdout(), "  bbox: %s\n", area.Box.BBoxFinder())
	return nil
}

func newAreaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List search areas",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			areas, err := s.db.ListSearchAreas(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(areas) == 0 {
				fmt.Fprintln(out, "No search areas found.")
				fmt.Fprintln(out, "\nUse 'kanpora area add' to add one.")
				return nil
			}

			fmt.Fprintf(out, "Search areas (%d):\n\n", len(areas))
			fmt.Fprintf(out, "  %-6s  %-24s  %-10s  %s\n", "ID", "Name", "Abbr", "Bounding Box (s,w,n,e)")
			fmt.Fprintln(out, "  "+strings.Repeat("-", 76))
			for _, a := range areas {
				fmt.Fprintf(out, "  %-6d  %-24s  %-10s  %s\n", a.ID, a.Name, a.Abbreviation, a.Box.BBoxFinder())
			}
			return nil
		},
	}
}

func newAreaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete AREA",
		Aliases: []string{"rm"},
		Short:   "Delete a search area with its surveys and listings",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			area, err := resolveArea(cmd.Context(), s.db, args[0])
			if err != nil {
				return err
			}
			if err := s.db.DeleteSearchArea(cmd.Context(), area.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted search area %d: %s\n", area.ID, area.Name)
			return nil
		},
	}
}

// resolveArea finds a search area by id or, failing that, by name.
func resolveArea(ctx context.Context, db *database.DB, arg string) (model.SearchArea, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		area, err := db.GetSearchArea(ctx, id)
		if !errors.Is(err, database.ErrNotFound) {
			return area, err
		}
	}
	return db.GetSearchAreaByName(ctx, strings.TrimSpace(arg))
}
