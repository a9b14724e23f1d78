package survey

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

var errFakeRequest = errors.New("fake request failure")

type point struct {
	id       string
	lat, lng float64
}

// fakeSearcher answers box searches from a fixed set of points. Like the
// remote service it returns at most limit listings per box and caps the
// claimed count at countCap.
type fakeSearcher struct {
	points   []point
	limit    int
	countCap int
	fail     func(box geo.GeoBox) bool
	onSearch func(box geo.GeoBox)

	mu    sync.Mutex
	boxes []geo.GeoBox
}

func (f *fakeSearcher) SearchBox(_ context.Context, box geo.GeoBox) (*model.SearchResult, error) {
	f.mu.Lock()
	f.boxes = append(f.boxes, box)
	f.mu.Unlock()

	if f.onSearch != nil {
		f.onSearch(box)
	}
	if f.fail != nil && f.fail(box) {
		return &model.SearchResult{Box: box, Pages: 1, Failed: true}, errFakeRequest
	}

	var in []model.Listing
	for _, p := range f.points {
		if box.Contains(p.lat, p.lng) {
			in = append(in, model.NewListing(p.id, nil))
		}
	}
	total := len(in)
	if len(in) > f.limit {
		in = in[:f.limit]
	}
	countCap := f.countCap
	if countCap == 0 {
		countCap = DefaultCountCap
	}
	return &model.SearchResult{Box: box, Listings: in, ExpectedCount: min(total, countCap), Pages: 1}, nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.boxes)
}

// searched reports whether the box of idx was searched.
func (f *fakeSearcher) searched(root geo.GeoBox, idx string, enlarge float64) bool {
	box := geo.BoxAt(root, geo.MustParseTreeIndex(idx), enlarge)
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.boxes, box)
}

type fakeRecorder struct {
	mu       sync.Mutex
	nodes    []string
	progress []string
	failed   []string
	failOn   string
}

func (r *fakeRecorder) RecordNode(_ context.Context, idx geo.TreeIndex, _ *model.SearchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, idx.String())
	return nil
}

func (r *fakeRecorder) RecordProgress(_ context.Context, idx geo.TreeIndex, _ geo.GeoBox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx.String() == r.failOn {
		return errors.New("disk full")
	}
	r.progress = append(r.progress, idx.String())
	return nil
}

func (r *fakeRecorder) RecordFailure(_ context.Context, idx geo.TreeIndex, _ geo.GeoBox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, idx.String())
	return nil
}

// log returns the recorded failures and completions as a resume log.
func (r *fakeRecorder) log() []model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Progress
	for _, idx := range r.failed {
		out = append(out, model.Progress{TreeIndex: geo.MustParseTreeIndex(idx), Sequential: true})
	}
	return append(out, progressOf(true, r.progress...)...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRoot(t *testing.T) geo.GeoBox {
	t.Helper()

	box, err := geo.NewGeoBox(1, 1, -1, -1)
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	return box
}

// smallOptions saturates boxes at 4 listings.
func smallOptions() Options {
	return Options{
		PageSize:           2,
		MaxPages:           2,
		Workers:            1,
		MaxDepth:           DefaultMaxDepth,
		StallThreshold:     DefaultStallThreshold,
		CountCap:           DefaultCountCap,
		MaxCorrectionDepth: DefaultMaxCorrectionDepth,
		Logger:             discardLogger(),
	}
}

// quadrantPoints puts n points near the center of each quadrant of the
// test root, with ids numbered from 1.
func quadrantPoints(n int) []point {
	centers := [][2]float64{{0.5, 0.5}, {0.5, -0.5}, {-0.5, 0.5}, {-0.5, -0.5}}
	var out []point
	for _, c := range centers {
		for i := range n {
			out = append(out, point{
				id:  strconv.Itoa(len(out) + 1),
				lat: c[0] + 0.01*float64(i),
				lng: c[1] - 0.01*float64(i),
			})
		}
	}
	return out
}

// scatteredPoints spreads n points over the test root on a low
// discrepancy sequence, away from every split line.
func scatteredPoints(n int) []point {
	out := make([]point, n)
	for i := range n {
		_, fa := math.Modf(float64(i+1) * 0.6180339887498949)
		_, fb := math.Modf(float64(i+1) * 0.7548776662466927)
		out[i] = point{id: strconv.Itoa(i + 1), lat: -0.99 + 1.98*fa, lng: -0.99 + 1.98*fb}
	}
	return out
}

func uniqueIDs(sr *model.SurveyResult) []string {
	var out []string
	for _, l := range sr.Unique() {
		out = append(out, string(l.ID()))
	}
	slices.Sort(out)
	return out
}

func TestPlanner_UnsaturatedRoot(t *testing.T) {
	t.Parallel()

	points := make([]point, 180)
	for i := range points {
		points[i] = point{id: strconv.Itoa(i + 1), lat: -0.9 + 0.01*float64(i), lng: 0.3}
	}
	searcher := &fakeSearcher{points: points, limit: 18 * 20}
	opts := smallOptions()
	opts.PageSize, opts.MaxPages = 18, 20

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), testRoot(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.calls() != 1 {
		t.Errorf("calls = %d, want 1", searcher.calls())
	}
	if len(sr.Results) != 1 {
		t.Errorf("nodes = %d, want 1", len(sr.Results))
	}
	if got := len(sr.Unique()); got != 180 {
		t.Errorf("unique = %d, want 180", got)
	}
	if sr.ExpectedCount != 180 {
		t.Errorf("ExpectedCount = %d, want 180", sr.ExpectedCount)
	}
}

func TestPlanner_SaturationBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		points    []point
		wantCalls int
	}{
		{name: "one below threshold does not split", points: quadrantPoints(1)[:3], wantCalls: 1},
		{name: "threshold splits", points: quadrantPoints(1), wantCalls: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			searcher := &fakeSearcher{points: tt.points, limit: 4}
			sr, err := NewPlanner(searcher, smallOptions()).Run(context.Background(), testRoot(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if searcher.calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", searcher.calls(), tt.wantCalls)
			}
			if len(sr.Unique()) != len(tt.points) {
				t.Errorf("unique = %d, want %d", len(sr.Unique()), len(tt.points))
			}
		})
	}
}

func TestPlanner_SequentialOrder(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{points: quadrantPoints(2), limit: 4}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.Recorder = rec

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), testRoot(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantNodes := []string{"0", "0-0", "0-1", "0-2", "0-3"}
	wantProgress := []string{"0-0", "0-1", "0-2", "0-3", "0"}
	if !slices.Equal(rec.nodes, wantNodes) {
		t.Errorf("node order = %v, want %v", rec.nodes, wantNodes)
	}
	if !slices.Equal(rec.progress, wantProgress) {
		t.Errorf("progress order = %v, want %v", rec.progress, wantProgress)
	}
	if len(sr.Unique()) != 8 {
		t.Errorf("unique = %d, want 8", len(sr.Unique()))
	}
}

func TestPlanner_Concurrent(t *testing.T) {
	t.Parallel()

	points := scatteredPoints(60)
	root := testRoot(t)

	run := func(workers int, enlarge float64) *model.SurveyResult {
		searcher := &fakeSearcher{points: points, limit: 4}
		opts := smallOptions()
		opts.Workers = workers
		opts.Enlarge = enlarge
		sr, err := NewPlanner(searcher, opts).Run(context.Background(), root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return sr
	}

	sequential := run(1, 0)
	if got := len(uniqueIDs(sequential)); got != len(points) {
		t.Fatalf("sequential unique = %d, want %d", got, len(points))
	}

	for _, workers := range []int{2, 4, 8} {
		if got := uniqueIDs(run(workers, 0)); !slices.Equal(got, uniqueIDs(sequential)) {
			t.Errorf("workers=%d found %d listings, want %d", workers, len(got), len(points))
		}
	}

	overlapping := run(4, 0.1)
	seen := map[model.ListingID]string{}
	for idx, res := range overlapping.Results {
		for _, l := range res.Listings {
			if prev, dup := seen[l.ID()]; dup {
				t.Errorf("listing %s kept in %s and %s", l.ID(), prev, idx)
			}
			seen[l.ID()] = idx
		}
	}
	if len(seen) != len(points) {
		t.Errorf("overlapping crawl unique = %d, want %d", len(seen), len(points))
	}
}

func TestPlanner_MaxDepth(t *testing.T) {
	t.Parallel()

	points := make([]point, 10)
	for i := range points {
		points[i] = point{id: strconv.Itoa(i + 1), lat: 0.3, lng: 0.3}
	}
	searcher := &fakeSearcher{points: points, limit: 4}
	opts := smallOptions()
	opts.MaxDepth = 2

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), testRoot(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.calls() != 9 {
		t.Errorf("calls = %d, want 9", searcher.calls())
	}
	for k := range sr.Results {
		if geo.MustParseTreeIndex(k).Depth() > 2 {
			t.Errorf("node %s is deeper than the limit", k)
		}
	}
}

func TestPlanner_Resume(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	searcher := &fakeSearcher{points: quadrantPoints(3), limit: 4}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.Recorder = rec
	opts.Resume = NewResume(progressOf(true, "0-0"))

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if searcher.searched(root, "0", 0) || searcher.searched(root, "0-0", 0) {
		t.Error("completed nodes must not be searched again")
	}
	for _, idx := range []string{"0-1", "0-2", "0-3"} {
		if !searcher.searched(root, idx, 0) {
			t.Errorf("node %s was not searched", idx)
		}
	}
	if searcher.calls() != 3 {
		t.Errorf("calls = %d, want 3", searcher.calls())
	}
	if len(sr.Unique()) != 9 {
		t.Errorf("unique = %d, want 9", len(sr.Unique()))
	}
	if !slices.Equal(rec.progress, []string{"0-1", "0-2", "0-3", "0"}) {
		t.Errorf("progress = %v", rec.progress)
	}
}

func TestPlanner_Stall(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	searcher := &fakeSearcher{
		points: quadrantPoints(2),
		limit:  4,
		fail:   func(box geo.GeoBox) bool { return box != root },
	}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.StallThreshold = 3
	opts.Recorder = rec

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), root)
	if !errors.Is(err, ErrCrawlStalled) {
		t.Fatalf("expected ErrCrawlStalled, got %v", err)
	}
	if searcher.calls() != 4 {
		t.Errorf("calls = %d, want 4", searcher.calls())
	}
	if sr == nil || len(sr.Results) != 4 {
		t.Fatalf("expected partial result with 4 nodes, got %+v", sr)
	}
	if !sr.Results["0-0"].Failed {
		t.Error("failed node must be marked")
	}
	if len(rec.progress) != 0 {
		t.Errorf("no subtree completed, got progress %v", rec.progress)
	}
}

func TestPlanner_FailedRoot(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	searcher := &fakeSearcher{
		points: quadrantPoints(2),
		limit:  4,
		fail:   func(geo.GeoBox) bool { return true },
	}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.Recorder = rec

	sr, err := NewPlanner(searcher, opts).Run(context.Background(), root)
	if !errors.Is(err, ErrCrawlStalled) {
		t.Fatalf("a crawl without a successful search must stall, got %v", err)
	}
	if searcher.calls() != 1 {
		t.Errorf("calls = %d, want 1", searcher.calls())
	}
	if sr == nil || !sr.Results["0"].Failed {
		t.Fatalf("expected the failed root in the result, got %+v", sr)
	}
	if !slices.Equal(rec.failed, []string{"0"}) {
		t.Errorf("failed = %v, want [0]", rec.failed)
	}
}

func TestPlanner_ResumeSearchesFailedNode(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	ne := root.SplitInFour(0)[geo.NE]
	first := &fakeSearcher{
		points: quadrantPoints(3),
		limit:  4,
		fail:   func(box geo.GeoBox) bool { return box == ne },
	}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.Recorder = rec

	if _, err := NewPlanner(first, opts).Run(context.Background(), root); err != nil {
		t.Fatalf("one failed quadrant must not stall, got %v", err)
	}
	if !slices.Equal(rec.failed, []string{"0-0"}) || !slices.Equal(rec.progress, []string{"0-1", "0-2", "0-3"}) {
		t.Fatalf("failed = %v, progress = %v", rec.failed, rec.progress)
	}

	second := &fakeSearcher{points: quadrantPoints(3), limit: 4}
	opts = smallOptions()
	opts.Resume = NewResume(rec.log())
	sr, err := NewPlanner(second, opts).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.calls() != 1 || !second.searched(root, "0-0", 0) {
		t.Errorf("only the failed quadrant must be searched again, calls = %d", second.calls())
	}
	if len(sr.Unique()) != 3 {
		t.Errorf("unique = %d, want the 3 listings of 0-0", len(sr.Unique()))
	}
}

func TestPlanner_SuccessResetsStall(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	ne := root.SplitInFour(0)[geo.NE]
	searcher := &fakeSearcher{
		points: quadrantPoints(2),
		limit:  4,
		// 0-0 succeeds, then three failures stay below the threshold
		fail: func(box geo.GeoBox) bool { return box != root && box != ne },
	}
	opts := smallOptions()
	opts.StallThreshold = 4

	_, err := NewPlanner(searcher, opts).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("three failures after a success must not stall, got %v", err)
	}
}

func TestPlanner_CancelStopsDescent(t *testing.T) {
	t.Parallel()

	root := testRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	searcher := &fakeSearcher{
		points: quadrantPoints(2),
		limit:  4,
		onSearch: func(box geo.GeoBox) {
			if box == root {
				cancel()
			}
		},
	}
	rec := &fakeRecorder{}
	opts := smallOptions()
	opts.Recorder = rec

	sr, err := NewPlanner(searcher, opts).Run(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if searcher.calls() != 1 {
		t.Errorf("calls = %d, want 1", searcher.calls())
	}
	if len(sr.Unique()) != 4 {
		t.Errorf("in-flight search must be kept, unique = %d", len(sr.Unique()))
	}
	if !slices.Equal(rec.nodes, []string{"0"}) || len(rec.progress) != 0 {
		t.Errorf("nodes = %v, progress = %v", rec.nodes, rec.progress)
	}
}

func TestPlanner_RecorderError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{points: quadrantPoints(2), limit: 4}
	opts := smallOptions()
	opts.Recorder = &fakeRecorder{failOn: "0-0"}

	_, err := NewPlanner(searcher, opts).Run(context.Background(), testRoot(t))
	if err == nil || errors.Is(err, ErrCrawlStalled) {
		t.Fatalf("expected recorder error, got %v", err)
	}
	if searcher.calls() != 2 {
		t.Errorf("calls = %d, want 2", searcher.calls())
	}
}

func TestPlanner_InvalidRoot(t *testing.T) {
	t.Parallel()

	_, err := NewPlanner(&fakeSearcher{}, smallOptions()).Run(context.Background(), geo.GeoBox{North: -1, South: 1, East: 1, West: -1})
	if !errors.Is(err, geo.ErrInvalidGeoBox) {
		t.Errorf("expected ErrInvalidGeoBox, got %v", err)
	}
}

func TestPlanner_Stats(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{points: quadrantPoints(2), limit: 4}
	p := NewPlanner(searcher, smallOptions())
	if _, err := p.Run(context.Background(), testRoot(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := p.Stats()
	if s.Searched != 5 || s.Saturated != 1 || s.Failed != 0 || s.Listings != 12 || s.InFlight != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
