package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of surveys a BatchProcessor runs at once.
const DefaultConcurrency = 2

// BatchProcessor runs several surveys concurrently, each through a fresh
// pipeline.
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each survey.
	pipelineFactory func() *Pipeline

	concurrency int
	logger      *slog.Logger

	results []*Run
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent surveys.
// Non-positive values keep DefaultConcurrency.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch runs the given surveys and returns their runs in input
// order. A failing survey does not stop the others; its error is kept in
// its Run. The returned error is only set when ctx was canceled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, surveyIDs []int64) ([]*Run, error) {
	bp.logger.Info("starting batch processing",
		"total_surveys", len(surveyIDs),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()
	bp.results = make([]*Run, len(surveyIDs))

	var g errgroup.Group
	g.SetLimit(bp.concurrency)

	for i, id := range surveyIDs {
		g.Go(func() error {
			run := NewRun(id)
			defer func() {
				bp.mu.Lock()
				bp.results[i] = run
				bp.mu.Unlock()
			}()

			if err := ctx.Err(); err != nil {
				run.Interrupted = true
				run.recordError(err)
				return nil
			}

			bp.logger.Info("running survey",
				"survey_id", id,
				"index", i+1,
				"total", len(surveyIDs),
			)

			if err := bp.pipelineFactory().Execute(ctx, run); err != nil {
				bp.logger.Warn("survey run failed",
					"survey_id", id,
					"status", run.Status.String(),
					"error", err,
				)
				return nil
			}

			bp.logger.Info("survey run completed",
				"survey_id", id,
				"saved", run.TotalSaved,
			)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // survey goroutines never return errors

	bp.logger.Info("batch processing complete",
		"total_surveys", len(surveyIDs),
		"elapsed", time.Since(startTime).Round(time.Millisecond).String(),
	)

	return bp.results, ctx.Err()
}
