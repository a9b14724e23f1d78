package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/kanpora/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose lists every listing instead of only the summary.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the survey export in human-readable format.
func (w *SimpleWriter) Write(e *Export) (int, error) {
	var sb strings.Builder

	writeRule(&sb, "=")
	sb.WriteString(fmt.Sprintf("SURVEY %d: %s\n", e.Survey.ID, e.Area.DisplayName()))
	writeRule(&sb, "=")
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Bounding Box:    %s\n", e.Area.Box))
	sb.WriteString(fmt.Sprintf("Survey Date:     %s\n", formatDate(e.Survey)))
	sb.WriteString(fmt.Sprintf("Status:          %s\n", e.Survey.Status))
	if e.Survey.RoomType != "" {
		sb.WriteString(fmt.Sprintf("Room Type:       %s\n", e.Survey.RoomType))
	}
	sb.WriteString(fmt.Sprintf("Listings Saved:  %d\n", len(e.Rooms)))
	sb.WriteString(fmt.Sprintf("Estimated Total: %d\n", e.Survey.ExpectedCount))
	sb.WriteString(fmt.Sprintf("Completeness:    %s\n", formatPercent(e.Survey.Completeness())))
	sb.WriteString("\n")

	if len(e.RoomTypes) > 0 {
		writeSection(&sb, "ROOM TYPES")
		for _, tc := range e.RoomTypes {
			sb.WriteString(fmt.Sprintf("  %-20s %d\n", tc.RoomType, tc.Count))
		}
		sb.WriteString("\n")
	}

	if w.verbose && len(e.Rooms) > 0 {
		writeSection(&sb, "LISTINGS")
		for _, r := range e.Rooms {
			w.writeRoom(&sb, "*", r)
		}
		sb.WriteString("\n")
	}

	writeRule(&sb, "=")
	return w.output.Write([]byte(sb.String()))
}

// WriteComparison outputs the comparison in human-readable format.
func (w *SimpleWriter) WriteComparison(c *Comparison) (int, error) {
	var sb strings.Builder

	writeRule(&sb, "=")
	sb.WriteString(fmt.Sprintf("SURVEY %d -> SURVEY %d\n", c.Before.ID, c.After.ID))
	writeRule(&sb, "=")
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("  Added:     %d\n", len(c.Added)))
	sb.WriteString(fmt.Sprintf("  Removed:   %d\n", len(c.Removed)))
	sb.WriteString(fmt.Sprintf("  Changed:   %d\n", len(c.Changed)))
	sb.WriteString(fmt.Sprintf("  Unchanged: %d\n", c.Unchanged))
	sb.WriteString("\n")

	if !c.HasChanges() {
		sb.WriteString("No differences.\n\n")
	}

	if len(c.Added) > 0 {
		writeSection(&sb, "ADDED")
		for _, r := range c.Added {
			w.writeRoom(&sb, "+", r)
		}
		sb.WriteString("\n")
	}
	if len(c.Removed) > 0 {
		writeSection(&sb, "REMOVED")
		for _, r := range c.Removed {
			w.writeRoom(&sb, "-", r)
		}
		sb.WriteString("\n")
	}
	if len(c.Changed) > 0 {
		writeSection(&sb, "CHANGED")
		for _, ch := range c.Changed {
			w.writeRoom(&sb, "~", ch.After)
			if delta := ch.RateDelta(); delta != 0 {
				sb.WriteString(fmt.Sprintf("    Rate: %s -> %s\n", formatFloat(ch.Before.Rate), formatFloat(ch.After.Rate)))
			}
		}
		sb.WriteString("\n")
	}

	writeRule(&sb, "=")
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeRoom(sb *strings.Builder, marker string, r model.Room) {
	sb.WriteString(fmt.Sprintf("  %s %s  %s  %s\n", marker, r.RoomID, roomTypeLabel(r), truncateString(r.Name, 50)))
	if w.verbose {
		sb.WriteString(fmt.Sprintf("    Location: %s,%s  Rate: %s %s  Reviews: %d\n",
			formatFloat(r.Latitude), formatFloat(r.Longitude), formatFloat(r.Rate), r.Currency, r.Reviews))
	}
}

func writeRule(sb *strings.Builder, ch string) {
	sb.WriteString(strings.Repeat(ch, 70))
	sb.WriteString("\n")
}

func writeSection(sb *strings.Builder, title string) {
	writeRule(sb, "-")
	sb.WriteString(title)
	sb.WriteString("\n")
	writeRule(sb, "-")
	sb.WriteString("\n")
}
