package search

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/nao1215/kanpora/internal/geo"
)

// Getter performs a GET against the remote service.
// *network.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Options configures a Fetcher.
type Options struct {
	// SearchURL is the remote search endpoint.
	SearchURL string

	// APIKey is sent as "key" when set.
	APIKey string

	// ClientSessionID and FederatedSessionID identify the crawl to the
	// service. Random UUIDs are used when empty.
	ClientSessionID    string
	FederatedSessionID string

	Locale   string
	Currency string

	// PageSize is sent as items_per_grid.
	PageSize int

	// RoomType restricts results to one room type when set.
	RoomType string

	// Logger receives malformed page warnings. slog.Default is used when nil.
	Logger *slog.Logger
}

// Fetcher requests and parses single pages of a box search.
type Fetcher struct {
	client Getter
	opts   Options
	logger *slog.Logger
}

// NewFetcher creates a Fetcher using client for requests.
func NewFetcher(client Getter, opts Options) *Fetcher {
	if opts.ClientSessionID == "" {
		opts.ClientSessionID = uuid.NewString()
	}
	if opts.FederatedSessionID == "" {
		opts.FederatedSessionID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, opts: opts, logger: logger}
}

// WithRoomType returns a copy of f restricted to roomType.
func (f *Fetcher) WithRoomType(roomType string) *Fetcher {
	c := *f
	c.opts.RoomType = roomType
	return &c
}

// Params builds the query of one page request.
func (f *Fetcher) Params(box geo.GeoBox, page, offset int) url.Values {
	p := url.Values{}
	p.Set("_format", "for_explore_search_web")
	p.Set("search_type", "PAGINATION")
	p.Set("search_by_map", "true")
	p.Set("selected_tab_id", "home_tab")
	p.Set("refinement_paths[]", "/homes")
	p.Set("items_per_grid", strconv.Itoa(f.opts.PageSize))
	p.Set("items_offset", strconv.Itoa(offset))
	p.Set("section_offset", strconv.Itoa(page))
	p.Set("ne_lat", formatCoord(box.North))
	p.Set("ne_lng", formatCoord(box.East))
	p.Set("sw_lat", formatCoord(box.South))
	p.Set("sw_lng", formatCoord(box.West))
	p.Set("locale", f.opts.Locale)
	p.Set("currency", f.opts.Currency)
	p.Set("client_session_id", f.opts.ClientSessionID)
	p.Set("federated_search_session_id", f.opts.FederatedSessionID)
	if f.opts.APIKey != "" {
		p.Set("key", f.opts.APIKey)
	}
	if f.opts.RoomType != "" {
		p.Set("room_types[]", f.opts.RoomType)
	}
	return p
}

// FetchPage requests one page of box. A malformed response is logged and
// returned as an empty page with Malformed set and a nil error. A request
// failure returns an empty page together with the client error.
func (f *Fetcher) FetchPage(ctx context.Context, box geo.GeoBox, page, offset int) (*Page, error) {
	body, err := f.client.Get(ctx, f.opts.SearchURL, f.Params(box, page, offset))
	if err != nil {
		return &Page{}, err
	}

	parsed, err := ParsePage(body)
	if err != nil {
		if !errors.Is(err, ErrMalformedPage) {
			return &Page{}, err
		}
		f.logger.Warn("unexpected search response",
			"box", box.String(),
			"page", page,
			"error", err,
		)
		return &Page{Malformed: true}, nil
	}
	return parsed, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
