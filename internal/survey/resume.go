package survey

import (
	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// Decision is what the planner does with a node on a resumed crawl.
type Decision int

const (
	// Run searches the node normally.
	Run Decision = iota
	// Skip leaves the node and its subtree alone: they were completed.
	Skip
	// Descend visits the children of the node without searching it again.
	// The node was split in a previous run and part of its subtree completed.
	Descend
)

// String returns the decision label used in logs.
func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Skip:
		return "skip"
	case Descend:
		return "descend"
	default:
		return "unknown"
	}
}

// Resume decides which nodes of a crawl still need a search, from the
// progress entries of a previous run. A nil *Resume runs every node.
//
// Positions are compared structurally on their ordinal paths in traversal
// order (NE, NW, SE, SW), never as numbers.
type Resume struct {
	completed []geo.TreeIndex

	// failed are nodes whose search failed and did not complete since.
	failed []geo.TreeIndex

	// last is the last completed position of a sequential log.
	last    geo.TreeIndex
	ordered bool
}

// NewResume builds a Resume from progress entries in logging order.
// Entries not marked completed record failed searches. When every
// completed entry was written by a single-worker crawl, nodes before the
// last completed position are also skipped, since that crawl finished
// them in order, unless a failed node lies on their path.
func NewResume(entries []model.Progress) *Resume {
	r := &Resume{ordered: true}
	for _, e := range entries {
		if !e.Completed {
			r.failed = append(r.failed, e.TreeIndex)
			continue
		}
		r.completed = append(r.completed, e.TreeIndex)
		r.last = e.TreeIndex
		r.ordered = r.ordered && e.Sequential
	}
	if len(r.completed) == 0 {
		return nil
	}
	return r
}

// Decide returns the decision for idx.
func (r *Resume) Decide(idx geo.TreeIndex) Decision {
	if r == nil {
		return Run
	}

	for _, c := range r.completed {
		if c == idx || c.IsAncestorOf(idx) {
			return Skip
		}
	}

	if r.ordered && geo.Compare(idx, r.last) < 0 && !idx.IsAncestorOf(r.last) && !r.onFailedPath(idx) {
		return Skip
	}

	for _, c := range r.completed {
		if idx.IsAncestorOf(c) {
			return Descend
		}
	}
	for _, f := range r.failed {
		if idx.IsAncestorOf(f) {
			return Descend
		}
	}
	return Run
}

// onFailedPath reports whether idx is a failed node, one of its ancestors
// or one of its descendants.
func (r *Resume) onFailedPath(idx geo.TreeIndex) bool {
	for _, f := range r.failed {
		if f == idx || f.IsAncestorOf(idx) || idx.IsAncestorOf(f) {
			return true
		}
	}
	return false
}

// Completed returns the number of completed positions in the log.
func (r *Resume) Completed() int {
	if r == nil {
		return 0
	}
	return len(r.completed)
}
