package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/kanpora/internal/model"
)

// DefaultRoomLimit is the number of listings tabulated in a markdown export.
const DefaultRoomLimit = 50

// lowCompleteness is the completeness under which an export carries a warning.
const lowCompleteness = 0.9

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter

	// roomLimit bounds the listing table; zero or less lists every room.
	roomLimit int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithRoomLimit sets how many listings the listing table shows.
func WithRoomLimit(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.roomLimit = n
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
		roomLimit:  DefaultRoomLimit,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the survey export in Markdown format.
func (w *MarkdownWriter) Write(e *Export) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, e)
	w.writeStatusAlert(md, e.Survey)
	w.writeRoomTypes(md, e)
	w.writeRooms(md, e)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteComparison outputs the comparison in Markdown format.
func (w *MarkdownWriter) WriteComparison(c *Comparison) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1(fmt.Sprintf("Survey %d vs Survey %d", c.Before.ID, c.After.ID))
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Before", "After"},
		Rows: [][]string{
			{"Survey", strconv.FormatInt(c.Before.ID, 10), strconv.FormatInt(c.After.ID, 10)},
			{"Date", formatDate(c.Before), formatDate(c.After)},
			{"Status", c.Before.Status.String(), c.After.Status.String()},
			{"Saved", strconv.Itoa(c.Before.TotalSaved), strconv.Itoa(c.After.TotalSaved)},
		},
	})
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Change", "Listings"},
		Rows: [][]string{
			{"Added", strconv.Itoa(len(c.Added))},
			{"Removed", strconv.Itoa(len(c.Removed))},
			{"Changed", strconv.Itoa(len(c.Changed))},
			{"Unchanged", strconv.Itoa(c.Unchanged)},
		},
	})
	md.PlainText("")

	if !c.HasChanges() {
		md.Note("Both surveys saw the same listings with identical data.")
		md.PlainText("")
		w.writeFooter(md)
		return len(md.String()), md.Build()
	}
	if c.Before.Status != model.SurveyCompleted || c.After.Status != model.SurveyCompleted {
		md.Warningf("Survey %d is %s and survey %d is %s; removed listings may only be missing from an incomplete crawl.",
			c.Before.ID, c.Before.Status, c.After.ID, c.After.Status)
		md.PlainText("")
	}

	w.writeRoomSection(md, "Added", c.Added)
	w.writeRoomSection(md, "Removed", c.Removed)

	if len(c.Changed) > 0 {
		md.H2("Changed")
		md.PlainText("")
		rows := make([][]string, len(c.Changed))
		for i, ch := range c.Changed {
			rows[i] = []string{
				"`" + string(ch.After.RoomID) + "`",
				truncateString(ch.After.Name, 40),
				formatFloat(ch.Before.Rate),
				formatFloat(ch.After.Rate),
				strconv.Itoa(ch.Before.Reviews),
				strconv.Itoa(ch.After.Reviews),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Room", "Name", "Rate Before", "Rate After", "Reviews Before", "Reviews After"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// writeHeader writes the title and the survey summary table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, e *Export) {
	title := fmt.Sprintf("Survey %d", e.Survey.ID)
	if e.Area.Name != "" {
		title += ": " + e.Area.DisplayName()
	}
	md.H1(title)
	md.PlainText("")

	rows := [][]string{
		{"Search Area", e.Area.DisplayName()},
		{"Bounding Box", "`" + e.Area.Box.String() + "`"},
		{"Survey Date", formatDate(e.Survey)},
		{"Method", e.Survey.Method},
		{"Status", e.Survey.Status.String()},
		{"Listings Saved", strconv.Itoa(len(e.Rooms))},
		{"Estimated Total", strconv.Itoa(e.Survey.ExpectedCount)},
		{"Completeness", formatPercent(e.Survey.Completeness())},
	}
	if e.Survey.RoomType != "" {
		rows = append(rows, []string{"Room Type", e.Survey.RoomType})
	}
	if e.Survey.Description != "" {
		rows = append(rows, []string{"Description", e.Survey.Description})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeStatusAlert writes an alert describing how far the survey can be trusted.
func (w *MarkdownWriter) writeStatusAlert(md *markdown.Markdown, s model.Survey) {
	switch {
	case s.Status == model.SurveyStalled:
		md.Cautionf("The crawl stalled after repeated request failures. Run survey %d again to resume it.", s.ID)
	case s.Status == model.SurveyFailed:
		md.Cautionf("The crawl of survey %d failed; results are partial.", s.ID)
	case s.Status == model.SurveyRunning:
		md.Importantf("Survey %d is running or was interrupted; results are partial.", s.ID)
	case s.Status == model.SurveyPending:
		md.Note("The survey has not been run yet.")
	case s.ExpectedCount > 0 && s.Completeness() < lowCompleteness:
		md.Warningf("Only %s of the estimated %d listings were saved.",
			formatPercent(s.Completeness()), s.ExpectedCount)
	default:
		md.Tip("The crawl completed.")
	}
	md.PlainText("")
}

// writeRoomTypes writes the room type table and its pie chart.
func (w *MarkdownWriter) writeRoomTypes(md *markdown.Markdown, e *Export) {
	md.H2("Room Types")
	md.PlainText("")

	if len(e.RoomTypes) == 0 {
		md.PlainText("No listings saved.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(e.RoomTypes))
	for i, tc := range e.RoomTypes {
		rows[i] = []string{tc.RoomType, strconv.Itoa(tc.Count)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Room Type", "Listings"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Listings by Room Type"),
		piechart.WithShowData(true),
	)
	for _, tc := range e.RoomTypes {
		chart.LabelAndIntValue(tc.RoomType, uint64(tc.Count)) //nolint:gosec // counts are never negative
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeRooms writes the listing table, bounded by the room limit.
func (w *MarkdownWriter) writeRooms(md *markdown.Markdown, e *Export) {
	if len(e.Rooms) == 0 {
		return
	}

	md.H2("Listings")
	md.PlainText("")

	rooms := e.Rooms
	if w.roomLimit > 0 && len(rooms) > w.roomLimit {
		rooms = rooms[:w.roomLimit]
	}
	w.writeRoomTable(md, rooms)

	if len(rooms) < len(e.Rooms) {
		md.PlainTextf("*%d more listing(s) omitted; export as CSV for the full list.*", len(e.Rooms)-len(rooms))
		md.PlainText("")
	}
}

// writeRoomSection writes a titled listing table when rooms is not empty.
func (w *MarkdownWriter) writeRoomSection(md *markdown.Markdown, title string, rooms []model.Room) {
	if len(rooms) == 0 {
		return
	}
	md.H2(title)
	md.PlainText("")
	w.writeRoomTable(md, rooms)
}

func (w *MarkdownWriter) writeRoomTable(md *markdown.Markdown, rooms []model.Room) {
	rows := make([][]string, len(rooms))
	for i, r := range rooms {
		rows[i] = []string{
			"`" + string(r.RoomID) + "`",
			roomTypeLabel(r),
			truncateString(r.Name, 40),
			formatFloat(r.Rate),
			strconv.Itoa(r.Reviews),
			r.Geohash,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Room", "Type", "Name", "Rate", "Reviews", "Geohash"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [kanpora](https://github.com/nao1215/kanpora)*")
}

func formatDate(s model.Survey) string {
	if s.Date.IsZero() {
		return "-"
	}
	return s.Date.Format("2006-01-02 15:04:05 MST")
}

func formatPercent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}
