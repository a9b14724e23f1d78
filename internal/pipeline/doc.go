// Package pipeline runs surveys end to end.
//
// A survey run is a Pipeline of steps sharing a Run: LoadSurveyStep reads
// the survey and its area, CrawlStep runs one quadtree crawl per room type
// while saving rooms and the resume log as nodes complete, and
// FinalizeStep writes the counts and the final status. BatchProcessor runs
// several surveys concurrently.
package pipeline
