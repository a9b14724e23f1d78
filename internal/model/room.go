package model

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"golang.org/x/crypto/sha3"
)

// GeohashPrecision is the number of geohash characters stored per room
// (about 5 meters of resolution).
const GeohashPrecision = 9

// maxTextLength bounds free-text fields; remote values occasionally exceed
// the historical varchar(255) columns.
const maxTextLength = 255

// Room is the typed persistence record of a listing seen by a survey.
// (SurveyID, RoomID) is unique.
type Room struct {
	SurveyID            int64     `json:"survey_id"`
	RoomID              ListingID `json:"room_id"`
	RoomType            string    `json:"room_type,omitempty"`
	HostID              string    `json:"host_id,omitempty"`
	Address             string    `json:"address,omitempty"`
	Reviews             int       `json:"reviews"`
	OverallSatisfaction float64   `json:"overall_satisfaction"`
	Accommodates        int       `json:"accommodates"`
	Bedrooms            float64   `json:"bedrooms"`
	Bathrooms           float64   `json:"bathrooms"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	Geohash             string    `json:"geohash,omitempty"`
	Name                string    `json:"name,omitempty"`
	License             string    `json:"license,omitempty"`
	City                string    `json:"city,omitempty"`
	PictureURL          string    `json:"picture_url,omitempty"`
	Neighborhood        string    `json:"neighborhood,omitempty"`
	PDPType             string    `json:"pdp_type,omitempty"`
	Rate                float64   `json:"rate"`
	RateWithServiceFee  float64   `json:"rate_with_service_fee"`
	Currency            string    `json:"currency,omitempty"`
	MinNights           int       `json:"min_nights"`
	MaxNights           int       `json:"max_nights"`

	// TreeIndex is the quadtree node the listing was first seen in.
	TreeIndex string `json:"tree_index,omitempty"`

	// Fingerprint is the SHA3-256 of the raw payload, used to detect
	// listings whose remote data changed between two surveys.
	Fingerprint string `json:"fingerprint"`

	// Raw is the JSON encoding of the listing record.
	Raw []byte `json:"-"`
}

// ErrMissingListingID is returned by DecodeRoom for records without an id.
var ErrMissingListingID = errors.New("listing has no identifier")

// DecodeRoom maps a raw listing record to a Room. Fields that are missing
// or have an unexpected type are left at their zero value; only a missing
// identifier is an error.
func DecodeRoom(l Listing, surveyID int64) (*Room, error) {
	id := l.ID()
	if id == "" {
		return nil, ErrMissingListingID
	}

	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to encode listing %s: %w", id, err)
	}

	r := &Room{
		SurveyID:            surveyID,
		RoomID:              id,
		RoomType:            lookupString(l, "listing", "room_type"),
		HostID:              idString(lookup(l, "listing", "user", "id")),
		Address:             lookupString(l, "listing", "public_address"),
		Reviews:             lookupInt(l, "listing", "reviews_count"),
		OverallSatisfaction: lookupFloat(l, "listing", "star_rating"),
		Accommodates:        lookupInt(l, "listing", "person_capacity"),
		Bedrooms:            lookupFloat(l, "listing", "bedrooms"),
		Bathrooms:           lookupFloat(l, "listing", "bathrooms"),
		Latitude:            lookupFloat(l, "listing", "lat"),
		Longitude:           lookupFloat(l, "listing", "lng"),
		Name:                lookupString(l, "listing", "name"),
		License:             lookupString(l, "listing", "license"),
		City:                lookupString(l, "listing", "localized_city"),
		PictureURL:          lookupString(l, "listing", "picture_url"),
		Neighborhood:        lookupString(l, "listing", "neighborhood"),
		PDPType:             lookupString(l, "listing", "pdp_type"),
		Rate:                lookupFloat(l, "pricing_quote", "rate", "amount"),
		RateWithServiceFee:  lookupFloat(l, "pricing_quote", "rate_with_service_fee", "amount"),
		Currency:            lookupString(l, "pricing_quote", "rate", "currency"),
		MinNights:           lookupInt(l, "listing", "min_nights"),
		MaxNights:           lookupInt(l, "listing", "max_nights"),
		Raw:                 raw,
	}

	if r.Latitude != 0 || r.Longitude != 0 {
		r.Geohash = geohash.EncodeWithPrecision(r.Latitude, r.Longitude, GeohashPrecision)
	}

	sum := sha3.Sum256(raw)
	r.Fingerprint = hex.EncodeToString(sum[:])

	return r, nil
}

func lookup(l Listing, path ...string) any {
	v, _ := l.Lookup(path...)
	return v
}

func lookupString(l Listing, path ...string) string {
	switch v := lookup(l, path...).(type) {
	case string:
		return truncate(strings.TrimSpace(v))
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func lookupFloat(l Listing, path ...string) float64 {
	switch v := lookup(l, path...).(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func lookupInt(l Listing, path ...string) int {
	return int(lookupFloat(l, path...))
}

func truncate(s string) string {
	if len(s) <= maxTextLength {
		return s
	}
	// cut on a rune boundary
	cut := maxTextLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
