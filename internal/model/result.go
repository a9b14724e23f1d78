package model

import (
	"maps"
	"slices"

	"github.com/nao1215/kanpora/internal/geo"
)

// SearchResult holds everything collected for one exhausted GeoBox.
type SearchResult struct {
	// Box is the searched region.
	Box geo.GeoBox `json:"box"`

	// Listings are the raw records returned across all pages of the box.
	Listings []Listing `json:"listings"`

	// ExpectedCount is the total the remote API claimed for the box on
	// its first page. It is capped by the remote service (see CountCap).
	ExpectedCount int `json:"expected_count"`

	// Pages is the number of pages fetched.
	Pages int `json:"pages"`

	// LowInventory is set when the remote API flagged the box as too sparse
	// to enumerate.
	LowInventory bool `json:"low_inventory,omitempty"`

	// Failed is set when the box search ended on a definitive request failure.
	Failed bool `json:"failed,omitempty"`
}

// CountWithID returns the number of listings carrying an identifier.
func (r *SearchResult) CountWithID() int {
	n := 0
	for _, l := range r.Listings {
		if l.ID() != "" {
			n++
		}
	}
	return n
}

// Clone returns a copy of r with its own listing slice.
// The listing records themselves are shared.
func (r *SearchResult) Clone() *SearchResult {
	c := *r
	c.Listings = slices.Clone(r.Listings)
	return &c
}

// SurveyResult collects the search results of a crawl keyed by tree index.
type SurveyResult struct {
	// Results maps a tree index string ("0", "0-2", ...) to its search result.
	Results map[string]*SearchResult `json:"results"`

	// ExpectedCount is the corrected estimate of listings in the survey area.
	ExpectedCount int `json:"expected_count"`

	// TotalSaved is the number of rooms persisted, filled in after saving.
	TotalSaved int `json:"total_saved"`
}

// NewSurveyResult returns an empty SurveyResult.
func NewSurveyResult() *SurveyResult {
	return &SurveyResult{Results: make(map[string]*SearchResult)}
}

// Indices returns the tree indices of the result in dedup walk order:
// shallower nodes first, siblings in NE, NW, SE, SW order.
// Keys that are not valid tree indices are skipped.
func (s *SurveyResult) Indices() []geo.TreeIndex {
	out := make([]geo.TreeIndex, 0, len(s.Results))
	for _, k := range slices.Sorted(maps.Keys(s.Results)) {
		idx, err := geo.ParseTreeIndex(k)
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	slices.SortFunc(out, geo.CompareBreadthFirst)
	return out
}

// Get returns the result stored for idx.
func (s *SurveyResult) Get(idx geo.TreeIndex) (*SearchResult, bool) {
	r, ok := s.Results[idx.String()]
	return r, ok
}

// TotalListings returns the number of listing records across all nodes.
func (s *SurveyResult) TotalListings() int {
	n := 0
	for _, r := range s.Results {
		n += len(r.Listings)
	}
	return n
}

// Unique returns all listings in walk order. After aggregation every
// listing appears exactly once.
func (s *SurveyResult) Unique() []Listing {
	out := make([]Listing, 0, s.TotalListings())
	for _, idx := range s.Indices() {
		out = append(out, s.Results[idx.String()].Listings...)
	}
	return out
}
