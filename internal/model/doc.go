// Package model defines the data structures shared by the crawl engine,
// the persistence layer and the report writers.
//
// This package contains the following main types:
//   - Listing: a raw, schema-free listing record from the remote search API
//   - SearchResult: the listings collected for one searched GeoBox
//   - SurveyResult: all search results of a crawl keyed by tree index
//   - Room: the typed persistence record decoded from a Listing
//   - SearchArea, Survey, Progress: the survey bookkeeping records
package model
