package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/kanpora/internal/model"
)

// Section type identifiers of the explore response.
const (
	sectionPaginatedHomes = "PAGINATED_HOMES"
	sectionLowInventory   = "HOMES_LOW_INVENTORY_ZOOM_OUT"
)

// Page is one page of a box search.
type Page struct {
	// Listings on the page, in response order.
	Listings []model.Listing

	// ExpectedCount is the total the service claims for the whole box, or
	// zero when an HTML page does not report it.
	ExpectedCount int

	// LowInventory is set when the service asked to zoom out. The page
	// then carries no listings and a zero count.
	LowInventory bool

	// Malformed is set when the response could not be parsed. The page
	// then carries no listings.
	Malformed bool
}

// exploreResponse is the part of the JSON explore response that is read.
type exploreResponse struct {
	ExploreTabs []struct {
		HomeTabMetadata *struct {
			ListingsCount json.Number `json:"listings_count"`
		} `json:"home_tab_metadata"`
		Sections []struct {
			SectionTypeUID string          `json:"section_type_uid"`
			Listings       []model.Listing `json:"listings"`
		} `json:"sections"`
	} `json:"explore_tabs"`
}

// ParsePage parses a search response. JSON documents and HTML pages
// embedding the JSON payload in a script element give the same Page.
// Any unexpected shape returns an error wrapping ErrMalformedPage.
func ParsePage(body []byte) (*Page, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPage)
	case trimmed[0] == '{':
		return parseExplore(trimmed)
	case trimmed[0] == '<':
		return parseHTML(trimmed)
	default:
		return nil, fmt.Errorf("%w: neither JSON nor HTML", ErrMalformedPage)
	}
}

func parseExplore(body []byte) (*Page, error) {
	var resp exploreResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPage, err)
	}

	if len(resp.ExploreTabs) != 1 {
		return nil, fmt.Errorf("%w: explore_tabs has %d elements, want 1", ErrMalformedPage, len(resp.ExploreTabs))
	}
	tab := resp.ExploreTabs[0]
	if tab.HomeTabMetadata == nil || tab.HomeTabMetadata.ListingsCount == "" {
		return nil, fmt.Errorf("%w: missing home_tab_metadata.listings_count", ErrMalformedPage)
	}
	count, err := numberToInt(tab.HomeTabMetadata.ListingsCount)
	if err != nil {
		return nil, fmt.Errorf("%w: listings_count: %w", ErrMalformedPage, err)
	}

	page := &Page{ExpectedCount: count}
	if count <= 0 {
		page.ExpectedCount = 0
		return page, nil
	}

	for _, section := range tab.Sections {
		switch section.SectionTypeUID {
		case sectionLowInventory:
			return &Page{LowInventory: true}, nil
		case sectionPaginatedHomes:
			page.Listings = section.Listings
		}
	}
	return page, nil
}

// parseHTML reads the JSON payload of a server-rendered search page.
// Listings are collected wherever a "listings" key appears.
func parseHTML(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPage, err)
	}

	scripts := doc.Find(`script[data-hypernova-key="spaspabundlejs"]`)
	if scripts.Length() == 0 {
		scripts = doc.Find(`script[type="application/json"]`)
	}

	var payload any
	scripts.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := s.Text()
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start < 0 || end < start {
			return true
		}
		dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
		dec.UseNumber()
		var v any
		if dec.Decode(&v) != nil {
			return true
		}
		if _, ok := findKey(v, "listings"); !ok {
			return true
		}
		payload = v
		return false
	})
	if payload == nil {
		return nil, fmt.Errorf("%w: no embedded listings payload", ErrMalformedPage)
	}

	if hasLowInventory(payload) {
		return &Page{LowInventory: true}, nil
	}

	// without listings_count the box total is unknown and stays 0
	page := &Page{Listings: collectListings(payload)}
	if v, ok := findKey(payload, "listings_count"); ok {
		if n, ok := v.(json.Number); ok {
			if count, err := numberToInt(n); err == nil {
				page.ExpectedCount = count
			}
		}
	}
	return page, nil
}

// collectListings returns every object found under a "listings" key.
// An object holding "listings" is not searched further. Object keys are
// walked in sorted order so that the result does not depend on map order.
func collectListings(v any) []model.Listing {
	var out []model.Listing
	switch t := v.(type) {
	case map[string]any:
		if items, ok := t["listings"].([]any); ok {
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					out = append(out, model.Listing(m))
				}
			}
			return out
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			out = append(out, collectListings(t[k])...)
		}
	case []any:
		for _, child := range t {
			out = append(out, collectListings(child)...)
		}
	}
	return out
}

// findKey returns a value stored under key at any depth. Objects are
// checked before their children, which are walked in sorted key order.
func findKey(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		if found, ok := t[key]; ok {
			return found, true
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if found, ok := findKey(t[k], key); ok {
				return found, true
			}
		}
	case []any:
		for _, child := range t {
			if found, ok := findKey(child, key); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// hasLowInventory reports whether a section anywhere in v is the zoom out marker.
func hasLowInventory(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		if t["section_type_uid"] == sectionLowInventory {
			return true
		}
		for _, child := range t {
			if hasLowInventory(child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if hasLowInventory(child) {
				return true
			}
		}
	}
	return false
}

func numberToInt(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
