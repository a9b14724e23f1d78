// Package survey plans and runs the quadtree crawl of a search area.
//
// The Planner searches the root box and splits every saturated box into
// four quadrants, searching sibling subtrees concurrently on a bounded
// pool. Results are keyed by tree index in a model.SurveyResult, which
// Aggregate deduplicates and whose capped expected count it corrects.
//
// A Resume built from the progress log of an interrupted run lets the
// Planner skip subtrees that were already completed.
package survey
