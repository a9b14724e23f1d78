// Package search turns a GeoBox into listing records.
//
// A Fetcher requests one page of a box from the remote search service and
// parses either the JSON explore response or the JSON payload embedded in
// an HTML page. Malformed responses become empty pages so that one bad
// answer ends a box instead of a crawl.
//
// A Searcher pages through a box with offset = page * page size until a
// short page or the page ceiling, and returns a model.SearchResult.
package search
