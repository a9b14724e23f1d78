package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MaxLatitude is the northern limit of a valid latitude.
	MaxLatitude = 90.0
	// MinLatitude is the southern limit of a valid latitude.
	MinLatitude = -90.0
	// MaxLongitude is the eastern limit of a valid longitude.
	MaxLongitude = 180.0
	// MinLongitude is the western limit of a valid longitude.
	MinLongitude = -180.0
)

// Quadrant ordinals returned by SplitInFour, in traversal order.
const (
	NE = 0
	NW = 1
	SE = 2
	SW = 3
)

// GeoBox is a rectangular region on the latitude/longitude grid.
// A GeoBox is a value: every operation returns new boxes and never
// modifies the receiver.
type GeoBox struct {
	North float64 `json:"north" yaml:"north"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east"  yaml:"east"`
	West  float64 `json:"west"  yaml:"west"`
}

// NewGeoBox creates a GeoBox from its four bounds.
// It returns ErrInvalidGeoBox when north <= south, east <= west,
// a bound is NaN, or a bound is outside the valid coordinate range.
func NewGeoBox(north, east, south, west float64) (GeoBox, error) {
	b := GeoBox{North: north, South: south, East: east, West: west}
	if err := b.Validate(); err != nil {
		return GeoBox{}, err
	}
	return b, nil
}

// Validate reports whether the box bounds are well formed.
func (b GeoBox) Validate() error {
	for _, v := range []float64{b.North, b.South, b.East, b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bound is not a finite number", ErrInvalidGeoBox)
		}
	}
	if b.North > MaxLatitude || b.South < MinLatitude {
		return fmt.Errorf("%w: latitude out of range [%v, %v]", ErrInvalidGeoBox, MinLatitude, MaxLatitude)
	}
	if b.East > MaxLongitude || b.West < MinLongitude {
		return fmt.Errorf("%w: longitude out of range [%v, %v]", ErrInvalidGeoBox, MinLongitude, MaxLongitude)
	}
	if b.North <= b.South {
		return fmt.Errorf("%w: north (%v) must be greater than south (%v)", ErrInvalidGeoBox, b.North, b.South)
	}
	if b.East <= b.West {
		return fmt.Errorf("%w: east (%v) must be greater than west (%v)", ErrInvalidGeoBox, b.East, b.West)
	}
	return nil
}

// LatSpan returns the north-south extent of the box in degrees.
func (b GeoBox) LatSpan() float64 {
	return b.North - b.South
}

// LngSpan returns the east-west extent of the box in degrees.
func (b GeoBox) LngSpan() float64 {
	return b.East - b.West
}

// Area returns the box area in square degrees.
func (b GeoBox) Area() float64 {
	return b.LatSpan() * b.LngSpan()
}

// Center returns the midpoint of the box.
func (b GeoBox) Center() (lat, lng float64) {
	return (b.North + b.South) / 2, (b.East + b.West) / 2
}

// Contains reports whether the point lies inside the box, edges included.
func (b GeoBox) Contains(lat, lng float64) bool {
	return lat <= b.North && lat >= b.South && lng <= b.East && lng >= b.West
}

// SplitInTwo splits the box at its latitude midpoint and returns the
// northern and southern halves. The longitude span is unchanged.
func (b GeoBox) SplitInTwo() (north, south GeoBox) {
	midLat, _ := b.Center()
	north = GeoBox{North: b.North, South: midLat, East: b.East, West: b.West}
	south = GeoBox{North: midLat, South: b.South, East: b.East, West: b.West}
	return north, south
}

// SplitInFour splits the box at both midpoints and returns the NE, NW, SE
// and SW quadrants, in that order. Each quadrant is enlarged by the given
// fraction of its own span; a fraction of 0 tiles the box exactly.
func (b GeoBox) SplitInFour(enlarge float64) [4]GeoBox {
	midLat, midLng := b.Center()
	quadrants := [4]GeoBox{
		NE: {North: b.North, South: midLat, East: b.East, West: midLng},
		NW: {North: b.North, South: midLat, East: midLng, West: b.West},
		SE: {North: midLat, South: b.South, East: b.East, West: midLng},
		SW: {North: midLat, South: b.South, East: midLng, West: b.West},
	}
	if enlarge != 0 {
		for i := range quadrants {
			quadrants[i] = quadrants[i].Enlarge(enlarge)
		}
	}
	return quadrants
}

// Enlarge moves every edge of the box outward by fraction of the box span
// on that axis. Edges are clamped to the valid coordinate range.
// Negative fractions are treated as 0.
func (b GeoBox) Enlarge(fraction float64) GeoBox {
	if fraction <= 0 {
		return b
	}
	dLat := b.LatSpan() * fraction
	dLng := b.LngSpan() * fraction
	return GeoBox{
		North: math.Min(b.North+dLat, MaxLatitude),
		South: math.Max(b.South-dLat, MinLatitude),
		East:  math.Min(b.East+dLng, MaxLongitude),
		West:  math.Max(b.West-dLng, MinLongitude),
	}
}

// String returns the box as "n=.. e=.. s=.. w=..".
func (b GeoBox) String() string {
	return fmt.Sprintf("n=%.6f e=%.6f s=%.6f w=%.6f", b.North, b.East, b.South, b.West)
}

// BBoxFinder returns the box in bboxfinder.com order: "s,w,n,e".
func (b GeoBox) BBoxFinder() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
	}, ",")
}

// ParseBBoxFinder parses a bounding box copied from bboxfinder.com,
// which uses the "south,west,north,east" ordering.
func ParseBBoxFinder(s string) (GeoBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeoBox{}, ErrInvalidBBoxFormat
	}

	values := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return GeoBox{}, fmt.Errorf("%w: %q: %w", ErrInvalidBBoxFormat, p, err)
		}
		values[i] = v
	}

	return NewGeoBox(values[2], values[3], values[0], values[1])
}

// BoxAt returns the box of the node idx in the quadtree rooted at root,
// replaying the splits with the given enlarge fraction.
func BoxAt(root GeoBox, idx TreeIndex, enlarge float64) GeoBox {
	box := root
	for _, ord := range idx.Ordinals() {
		box = box.SplitInFour(enlarge)[ord]
	}
	return box
}
