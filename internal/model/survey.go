package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/kanpora/internal/geo"
)

// abbreviationLength is the maximum length of a search area abbreviation.
const abbreviationLength = 10

// SearchArea is a named region surveys are run against.
type SearchArea struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Abbreviation string     `json:"abbreviation"`
	Box          geo.GeoBox `json:"box"`
}

// NewSearchArea builds a search area with its abbreviation derived from name.
func NewSearchArea(name string, box geo.GeoBox) SearchArea {
	return SearchArea{
		Name:         strings.TrimSpace(name),
		Abbreviation: Abbreviate(name),
		Box:          box,
	}
}

// DisplayName returns the name in title case.
func (a SearchArea) DisplayName() string {
	return cases.Title(language.Und).String(a.Name)
}

// Abbreviate derives a short file-system friendly identifier from an area
// name: accents are removed, the name is lowercased and cut to ten
// characters, spaces become underscores, and trailing underscores are trimmed.
// "Saint-Jean-de-Luz" becomes "saint-jean", "Île de Ré" becomes "ile_de_re".
func Abbreviate(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(name))
	if err != nil {
		folded = name
	}

	r := []rune(strings.ToLower(folded))
	if len(r) > abbreviationLength {
		r = r[:abbreviationLength]
	}
	abbr := strings.ReplaceAll(string(r), " ", "_")
	return strings.TrimRight(abbr, "_")
}

// SurveyStatus is the lifecycle state of a survey.
type SurveyStatus int

const (
	// SurveyPending means the survey was created but never run.
	SurveyPending SurveyStatus = iota
	// SurveyRunning means a crawl is in progress or was interrupted.
	SurveyRunning
	// SurveyCompleted means the crawl finished.
	SurveyCompleted
	// SurveyStalled means the crawl stopped after repeated request failures.
	SurveyStalled
	// SurveyFailed means the crawl aborted on an unexpected error.
	SurveyFailed
)

// String returns the stored form of the status.
func (s SurveyStatus) String() string {
	switch s {
	case SurveyPending:
		return "pending"
	case SurveyRunning:
		return "running"
	case SurveyCompleted:
		return "completed"
	case SurveyStalled:
		return "stalled"
	case SurveyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseSurveyStatus converts a stored status back to a SurveyStatus.
// Unknown values map to SurveyPending.
func ParseSurveyStatus(s string) SurveyStatus {
	switch strings.ToLower(s) {
	case "running":
		return SurveyRunning
	case "completed":
		return SurveyCompleted
	case "stalled":
		return SurveyStalled
	case "failed":
		return SurveyFailed
	default:
		return SurveyPending
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SurveyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SurveyStatus) UnmarshalText(b []byte) error {
	*s = ParseSurveyStatus(string(b))
	return nil
}

// Survey is one crawl of a search area at a point in time.
type Survey struct {
	ID            int64        `json:"id"`
	SearchAreaID  int64        `json:"search_area_id"`
	Date          time.Time    `json:"date"`
	Description   string       `json:"description,omitempty"`
	Comment       string       `json:"comment,omitempty"`
	Method        string       `json:"method"`
	Status        SurveyStatus `json:"status"`

	// RoomType restricts the survey to one room type. Empty runs the
	// configured room types, or all listings when none are configured.
	RoomType      string `json:"room_type,omitempty"`
	ExpectedCount int    `json:"expected_count"`
	TotalSaved    int    `json:"total_saved"`
}

// SurveyMethodQuadtree is the method recorded for crawls run by the planner.
const SurveyMethodQuadtree = "quadtree"

// Completeness returns saved/expected, or 0 when nothing was expected.
func (s Survey) Completeness() float64 {
	if s.ExpectedCount <= 0 {
		return 0
	}
	return float64(s.TotalSaved) / float64(s.ExpectedCount)
}

// Progress is one resume log entry: a quadtree node whose subtree was
// fully searched by a previous run of the survey.
type Progress struct {
	SurveyID  int64         `json:"survey_id"`
	RoomType  string        `json:"room_type,omitempty"`
	TreeIndex geo.TreeIndex `json:"tree_index"`
	Box       geo.GeoBox    `json:"box"`
	Completed bool          `json:"completed"`

	// Sequential is set when the entry was written by a single-worker crawl,
	// whose completions follow traversal order.
	Sequential bool      `json:"sequential"`
	LoggedAt   time.Time `json:"logged_at"`
}
