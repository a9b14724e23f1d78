package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// Defaults used for unset Options fields. Depth fields are unset when
// negative, since zero is a valid depth; the others when zero.
const (
	DefaultPageSize           = 18
	DefaultMaxPages           = 20
	DefaultWorkers            = 4
	DefaultMaxDepth           = 12
	DefaultStallThreshold     = 10
	DefaultCountCap           = 1001
	DefaultMaxCorrectionDepth = 5
)

// BoxSearcher exhausts one box. *search.Searcher implements it.
type BoxSearcher interface {
	SearchBox(ctx context.Context, box geo.GeoBox) (*model.SearchResult, error)
}

// Recorder receives crawl output as it is produced. Errors abort the crawl.
type Recorder interface {
	// RecordNode is called after a node was searched, before its children.
	RecordNode(ctx context.Context, idx geo.TreeIndex, res *model.SearchResult) error

	// RecordProgress is called once the node and its whole subtree were
	// searched. Nodes whose subtree was cut short are not reported.
	RecordProgress(ctx context.Context, idx geo.TreeIndex, box geo.GeoBox) error

	// RecordFailure is called after the search of a node failed. The node
	// must be searched again by a resumed crawl.
	RecordFailure(ctx context.Context, idx geo.TreeIndex, box geo.GeoBox) error
}

// Observer is notified of node outcomes, typically to feed metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	NodeSearched(depth, found int, saturated, failed bool, elapsed time.Duration)
	NodeSkipped(depth int)
}

// Options configures a Planner.
type Options struct {
	// PageSize and MaxPages define saturation: a box returning at least
	// PageSize*MaxPages listings is split.
	PageSize int
	MaxPages int

	// Enlarge is the overlap fraction of child boxes.
	Enlarge float64

	// Workers bounds the number of concurrent box searches. With one
	// worker the crawl is a sequential depth-first walk.
	Workers int

	// MaxDepth is the deepest level that is searched. Saturated boxes at
	// this depth are not split. Zero searches the root only.
	MaxDepth int

	// StallThreshold is the number of consecutive failed boxes that stops
	// the crawl with ErrCrawlStalled.
	StallThreshold int

	// CountCap and MaxCorrectionDepth configure Aggregate.
	CountCap           int
	MaxCorrectionDepth int

	// Resume skips nodes completed by a previous run. Nil runs every node.
	Resume *Resume

	Recorder Recorder
	Observer Observer
	Logger   *slog.Logger
}

// Stats counts node outcomes of a Planner across its runs.
type Stats struct {
	Searched  int64 `json:"searched"`
	Skipped   int64 `json:"skipped"`
	Saturated int64 `json:"saturated"`
	Failed    int64 `json:"failed"`
	Listings  int64 `json:"listings"`
	InFlight  int64 `json:"in_flight"`
}

// Planner runs quadtree crawls.
type Planner struct {
	searcher BoxSearcher
	opts     Options
	logger   *slog.Logger

	searched  atomic.Int64
	skipped   atomic.Int64
	saturated atomic.Int64
	failed    atomic.Int64
	listings  atomic.Int64
	inFlight  atomic.Int64
}

// NewPlanner creates a Planner searching boxes with searcher.
func NewPlanner(searcher BoxSearcher, opts Options) *Planner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	if opts.CountCap <= 0 {
		opts.CountCap = DefaultCountCap
	}
	if opts.MaxCorrectionDepth < 0 {
		opts.MaxCorrectionDepth = DefaultMaxCorrectionDepth
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{searcher: searcher, opts: opts, logger: logger}
}

// Threshold returns the listing count at which a box is saturated.
func (p *Planner) Threshold() int {
	return p.opts.PageSize * p.opts.MaxPages
}

// Stats returns a snapshot of the node counters.
func (p *Planner) Stats() Stats {
	return Stats{
		Searched:  p.searched.Load(),
		Skipped:   p.skipped.Load(),
		Saturated: p.saturated.Load(),
		Failed:    p.failed.Load(),
		Listings:  p.listings.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// Run crawls root and returns the aggregated result.
//
// When ctx is canceled, searches already running finish and are recorded,
// but no further node is started; the aggregate of what was found is
// returned with ctx's error. A stalled crawl returns its partial aggregate
// with an error wrapping ErrCrawlStalled.
func (p *Planner) Run(ctx context.Context, root geo.GeoBox) (*model.SurveyResult, error) {
	if err := root.Validate(); err != nil {
		return nil, err
	}

	crawlCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c := &crawl{
		planner: p,
		ctx:     crawlCtx,
		cancel:  cancel,
		results: model.NewSurveyResult(),
	}
	// the calling goroutine is one of the workers
	c.group.SetLimit(p.opts.Workers - 1)

	start := time.Now()
	c.visit(geo.Root(), root)
	_ = c.group.Wait() //nolint:errcheck // node tasks never return errors

	final := Aggregate(c.snapshot(), p.opts.CountCap, p.opts.MaxCorrectionDepth)

	p.logger.Info("crawl finished",
		"nodes", len(final.Results),
		"unique", len(final.Unique()),
		"expected", final.ExpectedCount,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)

	if crawlCtx.Err() == nil {
		if n := c.failures.Load(); n > 0 && c.successes.Load() == 0 {
			return final, fmt.Errorf("%w: all %d box searches failed", ErrCrawlStalled, n)
		}
		return final, nil
	}
	cause := context.Cause(crawlCtx)
	if errors.Is(cause, ErrCrawlStalled) || ctx.Err() == nil {
		return final, cause
	}
	return final, ctx.Err()
}

// crawl is the state of one Run.
type crawl struct {
	planner *Planner
	ctx     context.Context
	cancel  context.CancelCauseFunc
	group   errgroup.Group

	mu      sync.Mutex
	results *model.SurveyResult

	failMu           sync.Mutex
	consecutiveFails int

	// outcomes of the searches of this run
	successes atomic.Int64
	failures  atomic.Int64
}

// visit handles one node and its subtree and reports whether the whole
// subtree was searched.
func (c *crawl) visit(idx geo.TreeIndex, box geo.GeoBox) bool {
	p := c.planner
	logger := p.logger.With("index", idx.String(), "depth", idx.Depth())

	if c.ctx.Err() != nil {
		return false
	}

	var saturated bool
	switch p.opts.Resume.Decide(idx) {
	case Skip:
		p.skipped.Add(1)
		p.opts.Observer.NodeSkipped(idx.Depth())
		logger.Debug("node completed in a previous run, skipped")
		return true
	case Descend:
		logger.Debug("node split in a previous run, descending")
		saturated = true
	case Run:
		res, ok := c.search(idx, box, logger)
		if !ok {
			return false
		}
		saturated = res.CountWithID() >= p.Threshold()
	}

	complete := true
	if saturated {
		if idx.Depth() >= p.opts.MaxDepth {
			logger.Warn("saturated box at maximum depth, not split", "box", box.String())
		} else {
			complete = c.visitChildren(idx, box)
		}
	}

	if !complete || c.ctx.Err() != nil {
		return false
	}
	if err := p.opts.Recorder.RecordProgress(c.ctx, idx, box); err != nil {
		c.cancel(fmt.Errorf("failed to record progress of %s: %w", idx, err))
		return false
	}
	return true
}

// visitChildren runs the four quadrants of box, each on a pool worker when
// one is free and inline otherwise, and waits for all of them.
func (c *crawl) visitChildren(idx geo.TreeIndex, box geo.GeoBox) bool {
	var (
		wg       sync.WaitGroup
		complete atomic.Bool
	)
	complete.Store(true)

	for k, child := range box.SplitInFour(c.planner.opts.Enlarge) {
		if c.ctx.Err() != nil {
			return false
		}
		childIdx := idx.Child(k)
		task := func() {
			defer wg.Done()
			if !c.visit(childIdx, child) {
				complete.Store(false)
			}
		}
		wg.Add(1)
		if !c.group.TryGo(func() error { task(); return nil }) {
			task()
		}
	}
	wg.Wait()
	return complete.Load()
}

// search runs the box search of one node and records it. In-flight
// searches are not interrupted by crawl cancellation.
func (c *crawl) search(idx geo.TreeIndex, box geo.GeoBox, logger *slog.Logger) (*model.SearchResult, bool) {
	p := c.planner
	p.inFlight.Add(1)
	start := time.Now()
	res, err := p.searcher.SearchBox(context.WithoutCancel(c.ctx), box)
	elapsed := time.Since(start)
	p.inFlight.Add(-1)

	if res == nil {
		res = &model.SearchResult{Box: box, Failed: err != nil}
	}
	found := res.CountWithID()
	saturated := found >= p.Threshold()
	failed := err != nil

	c.store(idx, res)
	p.searched.Add(1)
	p.listings.Add(int64(found))
	if saturated {
		p.saturated.Add(1)
	}
	p.opts.Observer.NodeSearched(idx.Depth(), found, saturated, failed, elapsed)

	if failed {
		p.failed.Add(1)
		c.failures.Add(1)
		logger.Warn("box search failed", "found", found, "error", err)
		c.noteFailure()
	} else {
		c.successes.Add(1)
		logger.Info("box searched",
			"found", found,
			"expected", res.ExpectedCount,
			"pages", res.Pages,
			"saturated", saturated,
		)
		c.noteSuccess()
	}

	if err := p.opts.Recorder.RecordNode(context.WithoutCancel(c.ctx), idx, res); err != nil {
		c.cancel(fmt.Errorf("failed to record node %s: %w", idx, err))
		return res, false
	}
	if failed {
		if err := p.opts.Recorder.RecordFailure(context.WithoutCancel(c.ctx), idx, box); err != nil {
			c.cancel(fmt.Errorf("failed to record failure of %s: %w", idx, err))
		}
		return res, false
	}
	return res, true
}

// store records res under idx.
func (c *crawl) store(idx geo.TreeIndex, res *model.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results.Results[idx.String()] = res
}

// snapshot returns a copy of the results map.
func (c *crawl) snapshot() *model.SurveyResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := model.NewSurveyResult()
	for k, v := range c.results.Results {
		out.Results[k] = v
	}
	return out
}

func (c *crawl) noteFailure() {
	c.failMu.Lock()
	c.consecutiveFails++
	n := c.consecutiveFails
	c.failMu.Unlock()

	if n >= c.planner.opts.StallThreshold {
		c.cancel(fmt.Errorf("%w: %d consecutive box searches failed", ErrCrawlStalled, n))
	}
}

func (c *crawl) noteSuccess() {
	c.failMu.Lock()
	c.consecutiveFails = 0
	c.failMu.Unlock()
}

type nopRecorder struct{}

func (nopRecorder) RecordNode(context.Context, geo.TreeIndex, *model.SearchResult) error { return nil }
func (nopRecorder) RecordProgress(context.Context, geo.TreeIndex, geo.GeoBox) error      { return nil }
func (nopRecorder) RecordFailure(context.Context, geo.TreeIndex, geo.GeoBox) error       { return nil }

type nopObserver struct{}

func (nopObserver) NodeSearched(int, int, bool, bool, time.Duration) {}
func (nopObserver) NodeSkipped(int)                                  {}
