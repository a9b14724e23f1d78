package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
	"github.com/nao1215/kanpora/internal/survey"
)

// Store is the persistence a survey run needs. *database.DB implements it.
type Store interface {
	GetSurvey(ctx context.Context, id int64) (model.Survey, error)
	GetSearchArea(ctx context.Context, id int64) (model.SearchArea, error)
	UpdateSurveyStatus(ctx context.Context, id int64, status model.SurveyStatus) error
	UpdateSurveyCounts(ctx context.Context, id int64, expected, saved int) error
	SaveRooms(ctx context.Context, rooms []*model.Room) (saved, duplicates int, err error)
	CountRooms(ctx context.Context, surveyID int64) (int, error)
	LogProgress(ctx context.Context, p model.Progress) error
	LoadProgress(ctx context.Context, surveyID int64, roomType string) ([]model.Progress, error)
	ClearProgress(ctx context.Context, surveyID int64) error
}

// LoadSurveyStep reads the survey and its search area, decides the room
// types to crawl, and marks the survey as running.
type LoadSurveyStep struct {
	store     Store
	roomTypes []string
	fresh     bool
	logger    *slog.Logger
}

// LoadSurveyStepOption configures a LoadSurveyStep.
type LoadSurveyStepOption func(*LoadSurveyStep)

// WithRoomTypes sets the room types crawled when the survey does not name one.
func WithRoomTypes(roomTypes []string) LoadSurveyStepOption {
	return func(s *LoadSurveyStep) {
		s.roomTypes = roomTypes
	}
}

// WithFresh discards the resume log so the survey is crawled from scratch.
func WithFresh(fresh bool) LoadSurveyStepOption {
	return func(s *LoadSurveyStep) {
		s.fresh = fresh
	}
}

// WithLoadLogger sets a custom logger for the load step.
func WithLoadLogger(logger *slog.Logger) LoadSurveyStepOption {
	return func(s *LoadSurveyStep) {
		s.logger = logger
	}
}

// NewLoadSurveyStep creates a LoadSurveyStep reading from store.
func NewLoadSurveyStep(store Store, opts ...LoadSurveyStepOption) *LoadSurveyStep {
	s := &LoadSurveyStep{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *LoadSurveyStep) Name() string {
	return "load_survey"
}

// Do executes the load step.
func (s *LoadSurveyStep) Do(ctx context.Context, run *Run) error {
	sv, err := s.store.GetSurvey(ctx, run.SurveyID)
	if err != nil {
		return fmt.Errorf("failed to load survey: %w", err)
	}
	area, err := s.store.GetSearchArea(ctx, sv.SearchAreaID)
	if err != nil {
		return fmt.Errorf("failed to load search area of survey %d: %w", sv.ID, err)
	}
	if err := area.Box.Validate(); err != nil {
		return fmt.Errorf("search area %q: %w", area.Name, err)
	}

	run.Survey = sv
	run.Area = area
	run.RoomTypes = resolveRoomTypes(sv.RoomType, s.roomTypes)

	if s.fresh {
		if err := s.store.ClearProgress(ctx, sv.ID); err != nil {
			return err
		}
		s.logger.Info("resume log cleared", "survey_id", sv.ID)
	}

	if err := s.store.UpdateSurveyStatus(ctx, sv.ID, model.SurveyRunning); err != nil {
		return fmt.Errorf("failed to mark survey running: %w", err)
	}
	run.Status = model.SurveyRunning
	run.Survey.Status = model.SurveyRunning

	s.logger.Info("survey loaded",
		"survey_id", sv.ID,
		"area", area.Name,
		"box", area.Box.String(),
		"room_types", len(run.RoomTypes),
	)
	return nil
}

// resolveRoomTypes returns the room types a survey crawls: its own, else
// the configured ones, else one crawl over every type.
func resolveRoomTypes(surveyType string, configured []string) []string {
	if surveyType != "" {
		return []string{surveyType}
	}
	if len(configured) > 0 {
		return configured
	}
	return []string{""}
}

// SearcherFactory returns the box searcher of one room type.
type SearcherFactory func(roomType string) survey.BoxSearcher

// PlannerHook is called with each planner before its crawl starts.
type PlannerHook func(run *Run, roomType string, p *survey.Planner)

// CrawlStep runs one quadtree crawl per room type, resuming from the
// progress logged by previous runs. Rooms are saved as nodes are searched
// and nodes are logged as their subtree completes, so an interrupted run
// loses at most the boxes in flight.
type CrawlStep struct {
	store     Store
	searchers SearcherFactory
	opts      survey.Options
	hook      PlannerHook
	logger    *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithPlannerOptions sets the planner configuration. Resume, Recorder and
// Logger are set by the step.
func WithPlannerOptions(opts survey.Options) CrawlStepOption {
	return func(s *CrawlStep) {
		s.opts = opts
	}
}

// WithPlannerHook registers a hook called with each planner.
func WithPlannerHook(hook PlannerHook) CrawlStepOption {
	return func(s *CrawlStep) {
		s.hook = hook
	}
}

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a CrawlStep.
func NewCrawlStep(store Store, searchers SearcherFactory, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		store:     store,
		searchers: searchers,
		opts:      survey.Options{MaxDepth: -1, MaxCorrectionDepth: -1},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl step.
func (s *CrawlStep) Do(ctx context.Context, run *Run) error {
	for _, roomType := range run.RoomTypes {
		crawl, err := s.crawl(ctx, run, roomType)
		if crawl != nil {
			run.Crawls = append(run.Crawls, crawl)
		}
		if err != nil {
			s.interrupted(ctx, run, err)
			return err
		}
	}
	return nil
}

func (s *CrawlStep) crawl(ctx context.Context, run *Run, roomType string) (*Crawl, error) {
	logger := s.logger.With("survey_id", run.SurveyID)
	if roomType != "" {
		logger = logger.With("room_type", roomType)
	}

	entries, err := s.store.LoadProgress(ctx, run.SurveyID, roomType)
	if err != nil {
		return nil, err
	}
	resume := survey.NewResume(entries)
	if resume != nil {
		logger.Info("resuming survey", "completed_nodes", resume.Completed())
	}

	opts := s.opts
	workers := opts.Workers
	if workers <= 0 {
		workers = survey.DefaultWorkers
	}
	rec := &storeRecorder{
		store:      s.store,
		surveyID:   run.SurveyID,
		roomType:   roomType,
		sequential: workers == 1,
		logger:     logger,
	}
	opts.Resume = resume
	opts.Recorder = rec
	opts.Logger = logger

	planner := survey.NewPlanner(s.searchers(roomType), opts)
	if s.hook != nil {
		s.hook(run, roomType, planner)
	}

	start := time.Now()
	result, err := planner.Run(ctx, run.Area.Box)
	crawl := &Crawl{
		RoomType:   roomType,
		Result:     result,
		Stats:      planner.Stats(),
		Resumed:    resume != nil,
		Saved:      int(rec.saved.Load()),
		Duplicates: int(rec.duplicates.Load()),
		Elapsed:    time.Since(start),
		Err:        err,
	}
	if result != nil {
		result.TotalSaved = crawl.Saved
	}
	return crawl, err
}

// interrupted stores what an unfinished crawl achieved and the matching
// survey status. A canceled survey stays running so it can be resumed.
func (s *CrawlStep) interrupted(ctx context.Context, run *Run, err error) {
	ctx = context.WithoutCancel(ctx)

	switch {
	case errors.Is(err, survey.ErrCrawlStalled):
		run.Status = model.SurveyStalled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = model.SurveyRunning
		run.Interrupted = true
	default:
		run.Status = model.SurveyFailed
	}

	if cerr := storeCounts(ctx, s.store, run); cerr != nil {
		s.logger.Error("failed to store survey counts", "survey_id", run.SurveyID, "error", cerr)
	}
	if serr := s.store.UpdateSurveyStatus(ctx, run.SurveyID, run.Status); serr != nil {
		s.logger.Error("failed to store survey status", "survey_id", run.SurveyID, "error", serr)
	}
	run.Survey.Status = run.Status
}

// FinalizeStep writes the counts of a finished run and marks the survey
// completed.
type FinalizeStep struct {
	store  Store
	logger *slog.Logger
}

// NewFinalizeStep creates a FinalizeStep writing to store.
func NewFinalizeStep(store Store, logger *slog.Logger) *FinalizeStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizeStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *FinalizeStep) Name() string {
	return "finalize"
}

// Do executes the finalize step.
func (s *FinalizeStep) Do(ctx context.Context, run *Run) error {
	if err := storeCounts(ctx, s.store, run); err != nil {
		return err
	}
	if err := s.store.UpdateSurveyStatus(ctx, run.SurveyID, model.SurveyCompleted); err != nil {
		return fmt.Errorf("failed to mark survey completed: %w", err)
	}
	run.Status = model.SurveyCompleted
	run.Survey.Status = model.SurveyCompleted

	s.logger.Info("survey completed",
		"survey_id", run.SurveyID,
		"expected", run.ExpectedCount,
		"saved", run.TotalSaved,
		"completeness", fmt.Sprintf("%.1f%%", 100*run.Survey.Completeness()),
	)
	return nil
}

// storeCounts sums the expected counts of the crawls, counts the stored
// rooms, and writes both to the survey. A resumed crawl did not search
// the nodes it skipped, so its estimate never lowers a stored one.
func storeCounts(ctx context.Context, store Store, run *Run) error {
	expected := 0
	resumed := false
	for _, c := range run.Crawls {
		if c.Result != nil {
			expected += c.Result.ExpectedCount
		}
		resumed = resumed || c.Resumed
	}
	if resumed {
		expected = max(expected, run.Survey.ExpectedCount)
	}

	saved, err := store.CountRooms(ctx, run.SurveyID)
	if err != nil {
		return err
	}
	if err := store.UpdateSurveyCounts(ctx, run.SurveyID, expected, saved); err != nil {
		return fmt.Errorf("failed to store survey counts: %w", err)
	}

	run.ExpectedCount = expected
	run.TotalSaved = saved
	run.Survey.ExpectedCount = expected
	run.Survey.TotalSaved = saved
	return nil
}

// storeRecorder persists crawl output as the planner produces it.
type storeRecorder struct {
	store      Store
	surveyID   int64
	roomType   string
	sequential bool
	logger     *slog.Logger

	saved      atomic.Int64
	duplicates atomic.Int64
}

// RecordNode saves the rooms of a searched node. Rooms already saved by
// another node or a previous run are counted as duplicates.
func (r *storeRecorder) RecordNode(ctx context.Context, idx geo.TreeIndex, res *model.SearchResult) error {
	rooms := make([]*model.Room, 0, len(res.Listings))
	for _, l := range res.Listings {
		room, err := model.DecodeRoom(l, r.surveyID)
		if err != nil {
			r.logger.Debug("listing not saved", "index", idx.String(), "error", err)
			continue
		}
		room.TreeIndex = idx.String()
		if room.RoomType == "" {
			room.RoomType = r.roomType
		}
		rooms = append(rooms, room)
	}

	saved, dups, err := r.store.SaveRooms(ctx, rooms)
	if err != nil {
		return err
	}
	r.saved.Add(int64(saved))
	r.duplicates.Add(int64(dups))
	return nil
}

// RecordProgress logs a completed subtree to the resume log.
func (r *storeRecorder) RecordProgress(ctx context.Context, idx geo.TreeIndex, box geo.GeoBox) error {
	return r.store.LogProgress(ctx, model.Progress{
		SurveyID:   r.surveyID,
		RoomType:   r.roomType,
		TreeIndex:  idx,
		Box:        box,
		Completed:  true,
		Sequential: r.sequential,
		LoggedAt:   time.Now(),
	})
}

// RecordFailure logs a failed node as incomplete, so that a resumed crawl
// searches it again.
func (r *storeRecorder) RecordFailure(ctx context.Context, idx geo.TreeIndex, box geo.GeoBox) error {
	return r.store.LogProgress(ctx, model.Progress{
		SurveyID:   r.surveyID,
		RoomType:   r.roomType,
		TreeIndex:  idx,
		Box:        box,
		Completed:  false,
		Sequential: r.sequential,
		LoggedAt:   time.Now(),
	})
}
