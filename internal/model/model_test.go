package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nao1215/kanpora/internal/geo"
)

func decodeListing(t *testing.T, s string) Listing {
	t.Helper()

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var l Listing
	if err := dec.Decode(&l); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	return l
}

// TestListingID tests identifier extraction.
func TestListingID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		want ListingID
	}{
		{name: "nested number", json: `{"listing":{"id":12345}}`, want: "12345"},
		{name: "large nested number", json: `{"listing":{"id":803564328925446589}}`, want: "803564328925446589"},
		{name: "nested string", json: `{"listing":{"id":" 42 "}}`, want: "42"},
		{name: "top level id", json: `{"id":7}`, want: "7"},
		{name: "missing id", json: `{"listing":{"name":"x"}}`, want: ""},
		{name: "id of wrong type", json: `{"listing":{"id":{"a":1}}}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := decodeListing(t, tt.json).ID(); got != tt.want {
				t.Errorf("ID() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestDecodeRoom tests field mapping from a raw listing.
func TestDecodeRoom(t *testing.T) {
	t.Parallel()

	t.Run("maps known fields", func(t *testing.T) {
		t.Parallel()

		l := decodeListing(t, `{
			"listing": {
				"id": 99, "room_type": "Entire home/apt", "user": {"id": 5},
				"reviews_count": 12, "star_rating": 4.5, "person_capacity": 4,
				"bedrooms": 2, "bathrooms": 1.5, "lat": 43.48, "lng": -1.55,
				"name": "Villa", "localized_city": "Biarritz", "min_nights": 2
			},
			"pricing_quote": {"rate": {"amount": 120.5, "currency": "EUR"},
				"rate_with_service_fee": {"amount": 140}}
		}`)

		r, err := DecodeRoom(l, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.SurveyID != 3 || r.RoomID != "99" || r.HostID != "5" {
			t.Errorf("unexpected ids: %+v", r)
		}
		if r.RoomType != "Entire home/apt" || r.Reviews != 12 || r.Accommodates != 4 {
			t.Errorf("unexpected listing fields: %+v", r)
		}
		if r.Bathrooms != 1.5 || r.Latitude != 43.48 || r.Longitude != -1.55 {
			t.Errorf("unexpected numeric fields: %+v", r)
		}
		if r.Rate != 120.5 || r.RateWithServiceFee != 140 || r.Currency != "EUR" {
			t.Errorf("unexpected pricing fields: %+v", r)
		}
		if len(r.Geohash) != GeohashPrecision || !strings.HasPrefix(r.Geohash, "ezwz") {
			t.Errorf("unexpected geohash %q", r.Geohash)
		}
		if len(r.Fingerprint) != 64 {
			t.Errorf("expected 64 hex chars fingerprint, got %q", r.Fingerprint)
		}
	})

	t.Run("degrades field by field", func(t *testing.T) {
		t.Parallel()

		l := decodeListing(t, `{"listing":{"id":1,"bedrooms":"n/a","name":17,"lat":null}}`)
		r, err := DecodeRoom(l, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Bedrooms != 0 || r.Name != "17" || r.Geohash != "" {
			t.Errorf("unexpected degraded decode: %+v", r)
		}
	})

	t.Run("same payload gives same fingerprint", func(t *testing.T) {
		t.Parallel()

		a, _ := DecodeRoom(decodeListing(t, `{"listing":{"id":1,"name":"a"}}`), 1)
		b, _ := DecodeRoom(decodeListing(t, `{"listing":{"name":"a","id":1}}`), 2)
		c, _ := DecodeRoom(decodeListing(t, `{"listing":{"id":1,"name":"b"}}`), 1)
		if a.Fingerprint != b.Fingerprint {
			t.Error("expected equal fingerprints for equal payloads")
		}
		if a.Fingerprint == c.Fingerprint {
			t.Error("expected different fingerprints for different payloads")
		}
	})

	t.Run("missing id is an error", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeRoom(Listing{"listing": map[string]any{}}, 1)
		if !errors.Is(err, ErrMissingListingID) {
			t.Errorf("expected ErrMissingListingID, got %v", err)
		}
	})

	t.Run("long text is truncated", func(t *testing.T) {
		t.Parallel()

		long := strings.Repeat("é", 200)
		r, err := DecodeRoom(NewListing("1", map[string]any{"name": long}), 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(r.Name) > maxTextLength || !strings.HasPrefix(long, r.Name) {
			t.Errorf("bad truncation: %d bytes", len(r.Name))
		}
	})
}

// TestAbbreviate tests search area abbreviations.
func TestAbbreviate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{name: "Biarritz", want: "biarritz"},
		{name: "Saint-Jean-de-Luz", want: "saint-jean"},
		{name: "Île de Ré", want: "ile_de_re"},
		{name: "San Sebastian", want: "san_sebast"},
		{name: "Bayonne   ", want: "bayonne"},
		{name: "Anglet Sud Ouest", want: "anglet_sud"},
		{name: "Hendaye    Plage", want: "hendaye"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Abbreviate(tt.name); got != tt.want {
				t.Errorf("Abbreviate(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

// TestSurveyStatus tests status round trips.
func TestSurveyStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []SurveyStatus{SurveyPending, SurveyRunning, SurveyCompleted, SurveyStalled, SurveyFailed} {
		if got := ParseSurveyStatus(s.String()); got != s {
			t.Errorf("ParseSurveyStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if SurveyStatus(42).String() != "unknown" {
		t.Error("expected unknown for out of range status")
	}
}

// TestSurveyResultIndices tests the walk order of a survey result.
func TestSurveyResultIndices(t *testing.T) {
	t.Parallel()

	sr := NewSurveyResult()
	for _, k := range []string{"0-1-0", "0-3", "0", "0-0", "bogus", "0-1"} {
		sr.Results[k] = &SearchResult{}
	}

	var got []string
	for _, idx := range sr.Indices() {
		got = append(got, idx.String())
	}
	want := "0 0-0 0-1 0-3 0-1-0"
	if strings.Join(got, " ") != want {
		t.Errorf("Indices() = %v, want %s", got, want)
	}

	if _, ok := sr.Get(geo.MustParseTreeIndex("0-3")); !ok {
		t.Error("expected Get to find 0-3")
	}
}
