package report

import (
	"cmp"
	"slices"

	"github.com/nao1215/kanpora/internal/model"
)

// Comparison lists how the listings of a survey differ from an earlier one.
type Comparison struct {
	Before model.Survey `json:"before"`
	After  model.Survey `json:"after"`

	// Added are listings only the later survey saw.
	Added []model.Room `json:"added"`
	// Removed are listings only the earlier survey saw.
	Removed []model.Room `json:"removed"`
	// Changed are listings seen by both surveys whose payload differs.
	Changed []RoomChange `json:"changed"`
	// Unchanged counts listings seen by both with an identical payload.
	Unchanged int `json:"unchanged"`
}

// RoomChange is one listing whose remote data changed between two surveys.
type RoomChange struct {
	Before model.Room `json:"before"`
	After  model.Room `json:"after"`
}

// RateDelta returns the nightly rate difference, after minus before.
func (c RoomChange) RateDelta() float64 {
	return c.After.Rate - c.Before.Rate
}

// HasChanges reports whether any listing was added, removed or changed.
func (c *Comparison) HasChanges() bool {
	return len(c.Added) > 0 || len(c.Removed) > 0 || len(c.Changed) > 0
}

// Compare matches the rooms of two surveys by listing id. Listings are
// changed when their fingerprints differ. Every list is sorted by listing id.
func Compare(before, after model.Survey, beforeRooms, afterRooms []model.Room) *Comparison {
	c := &Comparison{
		Before:  before,
		After:   after,
		Added:   []model.Room{},
		Removed: []model.Room{},
		Changed: []RoomChange{},
	}

	old := make(map[model.ListingID]model.Room, len(beforeRooms))
	for _, r := range beforeRooms {
		old[r.RoomID] = r
	}

	seen := make(map[model.ListingID]struct{}, len(afterRooms))
	for _, r := range afterRooms {
		if _, dup := seen[r.RoomID]; dup {
			continue
		}
		seen[r.RoomID] = struct{}{}

		prev, ok := old[r.RoomID]
		switch {
		case !ok:
			c.Added = append(c.Added, r)
		case prev.Fingerprint != r.Fingerprint:
			c.Changed = append(c.Changed, RoomChange{Before: prev, After: r})
		default:
			c.Unchanged++
		}
	}
	for id, r := range old {
		if _, ok := seen[id]; !ok {
			c.Removed = append(c.Removed, r)
		}
	}

	byID := func(a, b model.Room) int { return cmp.Compare(a.RoomID, b.RoomID) }
	slices.SortFunc(c.Added, byID)
	slices.SortFunc(c.Removed, byID)
	slices.SortFunc(c.Changed, func(a, b RoomChange) int { return byID(a.After, b.After) })
	return c
}
