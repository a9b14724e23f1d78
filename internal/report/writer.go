package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/kanpora/internal/model"
)

// Writer defines the interface for report output.
// Implementations write survey exports and comparisons in various formats.
type Writer interface {
	// Write outputs one survey export.
	// Returns the number of bytes written and any error encountered.
	Write(e *Export) (int, error)

	// WriteComparison outputs the differences between two surveys.
	WriteComparison(c *Comparison) (int, error)
}

// Export is everything written for one survey.
type Export struct {
	Survey      model.Survey     `json:"survey"`
	Area        model.SearchArea `json:"area"`
	RoomTypes   []TypeCount      `json:"room_types"`
	Rooms       []model.Room     `json:"rooms"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// TypeCount is the number of saved listings of one room type.
type TypeCount struct {
	RoomType string `json:"room_type"`
	Count    int    `json:"count"`
}

// unknownRoomType labels listings the remote service returned without a type.
const unknownRoomType = "unknown"

// NewExport builds the export of a survey from its stored rooms.
// Room types are ordered by descending count, then by name.
func NewExport(s model.Survey, area model.SearchArea, rooms []model.Room) *Export {
	counts := make(map[string]int)
	for _, r := range rooms {
		rt := r.RoomType
		if rt == "" {
			rt = unknownRoomType
		}
		counts[rt]++
	}

	types := make([]TypeCount, 0, len(counts))
	for rt, n := range counts {
		types = append(types, TypeCount{RoomType: rt, Count: n})
	}
	slices.SortFunc(types, func(a, b TypeCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.RoomType, b.RoomType))
	})

	return &Export{
		Survey:      s,
		Area:        area,
		RoomTypes:   types,
		Rooms:       rooms,
		GeneratedAt: time.Now().UTC(),
	}
}

// Format is an output format of the survey export.
type Format string

const (
	// FormatCSV writes one row per listing.
	FormatCSV Format = "csv"
	// FormatJSON writes the export as a JSON document.
	FormatJSON Format = "json"
	// FormatMarkdown writes a readable summary with a room type chart.
	FormatMarkdown Format = "markdown"
	// FormatText writes a plain terminal summary.
	FormatText Format = "text"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatCSV, FormatJSON, FormatMarkdown, FormatText}
}

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported report format %q (want csv, json, markdown or text)", s)
	}
}

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatJSON:
		return ".json"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// NewWriter returns the Writer for format.
func NewWriter(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatText:
		return NewSimpleWriter(output), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// FileName returns the conventional export file name of a survey,
// for example "survey_12_ile_de_re.csv".
func FileName(e *Export, format Format) string {
	name := fmt.Sprintf("survey_%d", e.Survey.ID)
	if e.Area.Abbreviation != "" {
		name += "_" + e.Area.Abbreviation
	}
	return name + format.Extension()
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the export to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(e *Export) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(e)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteComparison outputs the comparison to all configured Writers.
func (m *MultiWriter) WriteComparison(c *Comparison) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteComparison(c)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// roomTypeLabel returns the displayed room type of a listing.
func roomTypeLabel(r model.Room) string {
	if r.RoomType == "" {
		return unknownRoomType
	}
	return r.RoomType
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
