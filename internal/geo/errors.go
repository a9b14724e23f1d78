package geo

import "errors"

var (
	// ErrInvalidGeoBox is returned when box bounds are inverted, degenerate or out of range.
	ErrInvalidGeoBox = errors.New("invalid geo box")

	// ErrInvalidTreeIndex is returned when a tree index string is malformed.
	ErrInvalidTreeIndex = errors.New("invalid tree index")

	// ErrInvalidBBoxFormat is returned when a bounding box string cannot be parsed.
	ErrInvalidBBoxFormat = errors.New("invalid bounding box format, expected s,w,n,e")
)
