package pipeline

import (
	"log/slog"

	"github.com/nao1215/kanpora/internal/config"
	"github.com/nao1215/kanpora/internal/search"
	"github.com/nao1215/kanpora/internal/survey"
)

// NewSearcherFactory returns a SearcherFactory issuing requests through
// client with the search settings of cfg.
func NewSearcherFactory(client search.Getter, cfg *config.Config, logger *slog.Logger) SearcherFactory {
	fetcher := search.NewFetcher(client, search.Options{
		SearchURL:       cfg.SearchURL,
		APIKey:          cfg.APIKey,
		ClientSessionID: cfg.ClientSessionID,
		Locale:          cfg.Locale,
		Currency:        cfg.Currency,
		PageSize:        cfg.PageSize,
		Logger:          logger,
	})
	return func(roomType string) survey.BoxSearcher {
		return search.NewSearcher(fetcher.WithRoomType(roomType), cfg.PageSize, cfg.MaxPages, logger)
	}
}

// PlannerOptions maps the crawl settings of cfg to planner options.
func PlannerOptions(cfg *config.Config, observer survey.Observer) survey.Options {
	return survey.Options{
		PageSize:           cfg.PageSize,
		MaxPages:           cfg.MaxPages,
		Enlarge:            cfg.Enlarge,
		Workers:            cfg.Workers,
		MaxDepth:           cfg.MaxDepth,
		StallThreshold:     cfg.StallThreshold,
		CountCap:           cfg.CountCap,
		MaxCorrectionDepth: cfg.MaxCorrectionDepth,
		Observer:           observer,
	}
}

// SurveyPipelineOptions configures NewSurveyPipeline.
type SurveyPipelineOptions struct {
	// Fresh discards the resume log before crawling.
	Fresh bool

	// Observer receives node outcomes. Nil disables it.
	Observer survey.Observer

	// Hook is called with each planner before its crawl.
	Hook PlannerHook

	Logger *slog.Logger
}

// NewSurveyPipeline builds the load, crawl, finalize pipeline of a survey run.
func NewSurveyPipeline(store Store, searchers SearcherFactory, cfg *config.Config, opts SurveyPipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := New(WithLogger(logger))
	p.AddSteps(
		NewLoadSurveyStep(store,
			WithRoomTypes(cfg.RoomTypes),
			WithFresh(opts.Fresh),
			WithLoadLogger(logger),
		),
		NewCrawlStep(store, searchers,
			WithPlannerOptions(PlannerOptions(cfg, opts.Observer)),
			WithPlannerHook(opts.Hook),
			WithCrawlLogger(logger),
		),
		NewFinalizeStep(store, logger),
	)
	return p
}
