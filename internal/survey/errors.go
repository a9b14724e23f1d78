package survey

import "errors"

// ErrCrawlStalled is returned when too many consecutive box searches ended
// on request failures. The crawl stops descending and the partial result
// is returned alongside.
var ErrCrawlStalled = errors.New("crawl stalled")
