package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/kanpora/internal/config"
	"github.com/nao1215/kanpora/internal/metrics"
	"github.com/nao1215/kanpora/internal/model"
	"github.com/nao1215/kanpora/internal/network"
	"github.com/nao1215/kanpora/internal/pipeline"
	"github.com/nao1215/kanpora/internal/survey"
)

// metricsShutdownTimeout bounds the graceful stop of the metrics server.
const metricsShutdownTimeout = 5 * time.Second

// NewSurveyRunCmd creates the survey run command.
func NewSurveyRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run ID...",
		Short: "Crawl the listings of one or more surveys",
		Long: `Run crawls the search area of each survey with the adaptive quadtree search
and stores every listing found.

A survey interrupted with Ctrl-C stays "running" and a survey whose requests keep
failing is marked "stalled". Running either again skips the parts of the area
already completed. Use --fresh to discard that progress and start over.

A stalled survey exits with status 2.

Examples:
  # Run a survey with 8 concurrent box searches
  kanpora survey run 1 --workers 8

  # Run several surveys, two at a time, through an embedded Tor daemon
  kanpora survey run 1 2 3 --batch 2 --tor

  # Expose prometheus metrics and live progress while running
  kanpora survey run 1 --metrics-addr 127.0.0.1:9101`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSurveyRunCmd,
	}

	cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Concurrent box searches per survey")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages, "Page ceiling of one box search")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Timeout of a single request")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize, "Surveys run concurrently")
	cmd.Flags().StringSlice("room-type", nil, "Crawl each room type separately (repeatable)")
	cmd.Flags().Bool("tor", false, "Start an embedded Tor daemon and add it to the proxy pool")
	cmd.Flags().Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics and /progress on this address")
	cmd.Flags().Bool("fresh", false, "Discard the progress of previous runs")

	return cmd
}

// applyRunFlags overrides cfg with the run flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("workers") {
		if cfg.Workers, err = flags.GetInt("workers"); err != nil {
			return err
		}
	}
	if flags.Changed("max-pages") {
		if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
			return err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("batch") {
		if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
			return err
		}
	}
	if flags.Changed("room-type") {
		if cfg.RoomTypes, err = flags.GetStringSlice("room-type"); err != nil {
			return err
		}
	}
	if flags.Changed("tor") {
		if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
			return err
		}
	}
	if flags.Changed("tor-timeout") {
		if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics-addr") {
		if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
			return err
		}
	}
	return nil
}

// runSurveyRunCmd executes the survey run command.
func runSurveyRunCmd(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	fresh, err := cmd.Flags().GetBool("fresh")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	tracker := metrics.NewTracker()
	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr, metrics.NewRouter(m, tracker, logger), logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if cfg.UseTor {
		tor, err := startEmbeddedTor(ctx, cmd.ErrOrStderr(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon")
			if err := tor.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
	}

	client, err := newClient(cfg, m, logger)
	if err != nil {
		return err
	}

	searchers := pipeline.NewSearcherFactory(client, cfg, logger)
	factory := func() *pipeline.Pipeline {
		return pipeline.NewSurveyPipeline(db, searchers, cfg, pipeline.SurveyPipelineOptions{
			Fresh:    fresh,
			Observer: m,
			Hook: func(run *pipeline.Run, roomType string, p *survey.Planner) {
				tracker.Track(run.SurveyID, roomType, p)
			},
			Logger: logger,
		})
	}

	out := cmd.OutOrStdout()
	start := time.Now()

	var runs []*pipeline.Run
	if len(ids) == 1 {
		fmt.Fprintf(out, "Running survey %d...\n", ids[0])
		run := pipeline.NewRun(ids[0])
		_ = factory().Execute(ctx, run) //nolint:errcheck // kept in run.Err
		runs = []*pipeline.Run{run}
	} else {
		fmt.Fprintf(out, "Running %d surveys (concurrency: %d)...\n", len(ids), cfg.BatchSize)
		bp := pipeline.NewBatchProcessor(factory,
			pipeline.WithConcurrency(cfg.BatchSize),
			pipeline.WithBatchLogger(logger),
		)
		runs, err = bp.ProcessBatch(ctx, ids)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	var errs []error
	for _, run := range runs {
		printRunSummary(out, run)
		if run.Err != nil {
			errs = append(errs, fmt.Errorf("survey %d: %w", run.SurveyID, run.Err))
		}
	}
	fmt.Fprintf(out, "Finished in %s (%d sessions created)\n", time.Since(start).Round(time.Millisecond), client.SessionsCreated())

	return errors.Join(errs...)
}

// newClient builds the request client over a session pool of the
// configured user agents and proxies.
func newClient(cfg *config.Config, observer network.Observer, logger *slog.Logger) (*network.Client, error) {
	pool, err := network.NewSessionPool(network.PoolOptions{
		UserAgents:       cfg.UserAgents,
		Proxies:          cfg.Proxies,
		Timeout:          cfg.Timeout,
		ReinitSleep:      cfg.ReinitSleep,
		EvictProbability: cfg.ProxyEvictProbability,
		Logger:           logger,
		Observer:         observer,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid proxy configuration: %w", err)
	}

	return network.NewClient(pool, network.ClientOptions{
		MaxAttempts:  cfg.MaxAttempts,
		RequestSleep: cfg.RequestSleep,
		Logger:       logger,
		Observer:     observer,
	}), nil
}

// startEmbeddedTor starts an embedded Tor daemon and adds its SOCKS port
// to the configured proxies.
func startEmbeddedTor(ctx context.Context, w io.Writer, cfg *config.Config, logger *slog.Logger) (*network.EmbeddedTor, error) {
	fmt.Fprintln(w, "Starting embedded Tor daemon...")
	fmt.Fprintf(w, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	tor := network.NewEmbeddedTor(network.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := tor.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	proxyURL, err := tor.ProxyURL()
	if err != nil {
		_ = tor.Stop() //nolint:errcheck // best effort cleanup
		return nil, err
	}
	cfg.Proxies = append(cfg.Proxies, proxyURL)

	logger.Info("embedded Tor daemon started", "proxy", proxyURL)
	return tor, nil
}

// printRunSummary writes the outcome of one survey run.
func printRunSummary(w io.Writer, run *pipeline.Run) {
	title := fmt.Sprintf("Survey %d", run.SurveyID)
	if run.Area.Name != "" {
		title += " (" + run.Area.DisplayName() + ")"
	}
	fmt.Fprintf(w, "\n%s: %s\n", title, run.Status)

	for _, c := range run.Crawls {
		label := "all room types"
		if c.RoomType != "" {
			label = strconv.Quote(c.RoomType)
		}
		fmt.Fprintf(w, "  %s: %d boxes searched, %d skipped, %d saturated, %d failed\n",
			label, c.Stats.Searched, c.Stats.Skipped, c.Stats.Saturated, c.Stats.Failed)
		fmt.Fprintf(w, "    %d listings seen, %d new, %d already stored, in %s\n",
			c.Stats.Listings, c.Saved, c.Duplicates, c.Elapsed.Round(time.Second))
	}

	if run.ExpectedCount > 0 || run.TotalSaved > 0 {
		fmt.Fprintf(w, "  expected %d, saved %d (%.1f%%)\n",
			run.ExpectedCount, run.TotalSaved, 100*run.Survey.Completeness())
	}

	switch {
	case run.Status == model.SurveyStalled:
		fmt.Fprintf(w, "  crawl stalled: run 'kanpora survey run %d' later to resume\n", run.SurveyID)
	case run.Interrupted:
		fmt.Fprintf(w, "  interrupted: run 'kanpora survey run %d' to resume\n", run.SurveyID)
	case run.Err != nil:
		fmt.Fprintf(w, "  error: %s\n", run.ErrorMessage)
	}
	fmt.Fprintln(w)
}
