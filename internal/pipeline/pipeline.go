package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/kanpora/internal/model"
	"github.com/nao1215/kanpora/internal/survey"
)

// Step is one stage of a survey run. Steps are executed in sequence, each
// receiving the Run filled in by the previous ones.
type Step interface {
	// Do executes the step. An error stops the pipeline unless it was
	// created WithContinueOnError.
	Do(ctx context.Context, run *Run) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Run is the state of one survey run.
type Run struct {
	// SurveyID is the survey to run. It is the only field set by the caller.
	SurveyID int64

	Survey model.Survey
	Area   model.SearchArea

	// RoomTypes are crawled one after the other. An empty string crawls
	// every room type at once.
	RoomTypes []string

	// Crawls holds one entry per room type crawled, in order.
	Crawls []*Crawl

	// ExpectedCount and TotalSaved are the counts written to the survey.
	ExpectedCount int
	TotalSaved    int

	// Status is the survey status at the end of the run.
	Status model.SurveyStatus

	// Err is the error that ended the run, if any.
	Err          error
	ErrorMessage string

	// Interrupted is set when the run was canceled before it finished.
	Interrupted bool

	PerformedSteps []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// NewRun returns a Run for the given survey.
func NewRun(surveyID int64) *Run {
	return &Run{SurveyID: surveyID, Status: model.SurveyPending}
}

// Crawl is the outcome of the crawl of one room type.
type Crawl struct {
	RoomType string
	Result   *model.SurveyResult
	Stats    survey.Stats

	// Resumed is set when nodes completed by a previous run were skipped.
	Resumed bool

	// Saved and Duplicates count the rooms written by this crawl.
	Saved      int
	Duplicates int

	Elapsed time.Duration
	Err     error
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// continueOnError keeps executing steps after one fails.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails. The first error is kept in the Run.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence. Cancellation is checked
// before each step; steps handle it themselves while running.
//
// It returns the first error encountered if continueOnError is false,
// or nil if all steps complete.
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	run.StartedAt = time.Now()
	defer func() { run.FinishedAt = time.Now() }()

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"reason", err,
			)
			run.Interrupted = true
			run.recordError(err)
			return err
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"survey_id", run.SurveyID,
		)

		if err := step.Do(ctx, run); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"survey_id", run.SurveyID,
				"error", err,
			)
			run.recordError(err)
			if !p.continueOnError {
				return err
			}
		} else {
			p.logger.Debug("step completed",
				"step", step.Name(),
				"survey_id", run.SurveyID,
			)
		}

		run.PerformedSteps = append(run.PerformedSteps, step.Name())
	}

	return nil
}

func (r *Run) recordError(err error) {
	if r.Err != nil {
		return
	}
	r.Err = err
	r.ErrorMessage = err.Error()
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
