package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// PageFetcher returns one page of a box. *Fetcher implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, box geo.GeoBox, page, offset int) (*Page, error)
}

// Searcher exhausts the pages of a single box.
type Searcher struct {
	pages    PageFetcher
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// NewSearcher creates a Searcher. pageSize is the size of a full page and
// maxPages the page ceiling.
func NewSearcher(pages PageFetcher, pageSize, maxPages int, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		pages:    pages,
		pageSize: max(pageSize, 1),
		maxPages: max(maxPages, 1),
		logger:   logger,
	}
}

// Threshold returns the listing count at which a box is saturated.
func (s *Searcher) Threshold() int {
	return s.pageSize * s.maxPages
}

// SearchBox fetches pages 0, 1, ... of box until a page is shorter than a
// full page or the page ceiling is reached. The expected count comes from
// the first page. When a request fails definitively the result so far is
// returned with Failed set and an error wrapping ErrBoxFailed.
func (s *Searcher) SearchBox(ctx context.Context, box geo.GeoBox) (*model.SearchResult, error) {
	result := &model.SearchResult{Box: box}

	for page := range s.maxPages {
		offset := page * s.pageSize
		p, err := s.pages.FetchPage(ctx, box, page, offset)
		result.Pages++
		if err != nil {
			result.Failed = true
			return result, fmt.Errorf("%w: page %d of %s: %w", ErrBoxFailed, page, box, err)
		}

		if page == 0 {
			result.ExpectedCount = p.ExpectedCount
			if p.LowInventory {
				result.LowInventory = true
				s.logger.Debug("low inventory, box skipped", "box", box.String())
				return result, nil
			}
		}

		result.Listings = append(result.Listings, p.Listings...)
		if len(p.Listings) < s.pageSize {
			break
		}
	}

	return result, nil
}
