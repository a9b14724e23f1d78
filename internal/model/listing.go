package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Listing is one raw listing record as returned by the remote search API.
// Its shape is owned by the remote service and changes over time, so it is
// kept as an untyped bag. Only the identifier is read by the crawl engine;
// DecodeRoom maps the rest to the persistence schema.
type Listing map[string]any

// ListingID identifies a listing on the remote service.
// Identifiers are kept as decimal strings because recent ids do not fit
// in a float64 without loss.
type ListingID string

// ID returns the listing identifier found at listing.id, falling back to a
// top-level id. It returns "" when no identifier is present.
func (l Listing) ID() ListingID {
	if inner, ok := l["listing"].(map[string]any); ok {
		if id := idString(inner["id"]); id != "" {
			return ListingID(id)
		}
	}
	return ListingID(idString(l["id"]))
}

// Lookup walks a path of keys through nested objects and returns the value
// found at the end. The second result is false if any step is missing or
// is not an object.
func (l Listing) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(l)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// idString converts a decoded JSON identifier to its decimal form.
func idString(v any) string {
	switch id := v.(type) {
	case json.Number:
		return id.String()
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// NewListing builds a listing record with the given identifier and extra
// top-level listing fields. It is mainly used by fakes and tests.
func NewListing(id string, fields map[string]any) Listing {
	inner := map[string]any{"id": json.Number(id)}
	for k, v := range fields {
		inner[k] = v
	}
	return Listing{"listing": inner}
}
