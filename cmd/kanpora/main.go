// Package main provides the entry point for the kanpora CLI.
//
// kanpora crawls a listing search service one geographic box at a time,
// splitting boxes whose results are capped, and stores every listing of a
// search area as a survey.
//
// Usage:
//
//	kanpora area add <name> --bbox south,west,north,east
//	kanpora survey add <area>
//	kanpora survey run <survey-id>
//
// See --help for all available options.
package main

// main is the entry point for kanpora.
func main() {
	Execute()
}
