package search

import "errors"

var (
	// ErrMalformedPage is returned by ParsePage when the response does not
	// have the expected shape.
	ErrMalformedPage = errors.New("malformed search page")

	// ErrBoxFailed is returned by SearchBox when a page request failed
	// definitively. The partial result is returned alongside.
	ErrBoxFailed = errors.New("box search failed")
)
