// Package report writes survey exports and survey comparisons.
//
// This package contains writers for different output formats:
//   - CSVWriter: one row per listing for spreadsheets
//   - JSONWriter: structured JSON output for tool integration
//   - MarkdownWriter: a shareable summary with a room type chart
//   - SimpleWriter: human-readable text output for terminal display
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
