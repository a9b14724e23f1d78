package survey

import (
	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// Aggregate returns a deduplicated copy of sr with a corrected expected count.
//
// Nodes are walked shallowest first, siblings in NE, NW, SE, SW order, and
// a listing is kept only in the first node it was seen in. Listings
// without an identifier are dropped. sr is not modified, and aggregating
// an aggregated result gives the same result.
//
// The remote service reports countCap instead of the real total when the
// total is larger. When the shallowest level reports the cap, the estimate
// is taken one level deeper, down to maxCorrectionDepth levels, stopping
// at the first level where no node is capped. A level is summed over its
// nodes plus the leaves above it, so unsplit siblings are not lost.
func Aggregate(sr *model.SurveyResult, countCap, maxCorrectionDepth int) *model.SurveyResult {
	out := model.NewSurveyResult()
	out.TotalSaved = sr.TotalSaved

	indices := sr.Indices()
	seen := make(map[model.ListingID]struct{})
	for _, idx := range indices {
		src := sr.Results[idx.String()]
		res := src.Clone()
		res.Listings = res.Listings[:0:0]
		for _, l := range src.Listings {
			id := l.ID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			res.Listings = append(res.Listings, l)
		}
		out.Results[idx.String()] = res
	}

	out.ExpectedCount = correctedCount(sr, indices, countCap, maxCorrectionDepth)
	return out
}

// correctedCount estimates the area total from the per-node counts.
// indices must be in Indices order.
func correctedCount(sr *model.SurveyResult, indices []geo.TreeIndex, countCap, maxCorrectionDepth int) int {
	if len(indices) == 0 {
		return 0
	}

	present := make(map[geo.TreeIndex]bool, len(indices))
	deepest := 0
	for _, idx := range indices {
		present[idx] = true
		deepest = max(deepest, idx.Depth())
	}

	isLeaf := func(idx geo.TreeIndex) bool {
		for k := range 4 {
			if present[idx.Child(k)] {
				return false
			}
		}
		return true
	}

	// frontier sums the counts of nodes at depth d and of leaves above d.
	frontier := func(d int) (sum int, capped bool) {
		for _, idx := range indices {
			depth := idx.Depth()
			if depth > d || (depth < d && !isLeaf(idx)) {
				continue
			}
			count := sr.Results[idx.String()].ExpectedCount
			sum += count
			if count >= countCap {
				capped = true
			}
		}
		return sum, capped
	}

	start := indices[0].Depth()
	sum, capped := frontier(start)
	for d := start + 1; capped && d <= start+maxCorrectionDepth && d <= deepest; d++ {
		sum, capped = frontier(d)
	}
	return sum
}
