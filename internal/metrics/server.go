package metrics

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/kanpora/internal/survey"
)

// StatsSource reports node counters of a running crawl.
// *survey.Planner implements it.
type StatsSource interface {
	Stats() survey.Stats
}

// CrawlProgress is the live state of one crawl.
type CrawlProgress struct {
	SurveyID  int64        `json:"survey_id"`
	RoomType  string       `json:"room_type,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	Stats     survey.Stats `json:"stats"`
}

// Tracker keeps the crawls shown by the progress endpoint.
type Tracker struct {
	mu     sync.Mutex
	crawls map[trackKey]*tracked
}

type trackKey struct {
	surveyID int64
	roomType string
}

type tracked struct {
	src       StatsSource
	startedAt time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{crawls: make(map[trackKey]*tracked)}
}

// Track registers the crawl of one survey and room type, replacing a
// previous crawl of the same pair.
func (t *Tracker) Track(surveyID int64, roomType string, src StatsSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crawls[trackKey{surveyID, roomType}] = &tracked{src: src, startedAt: time.Now()}
}

// Snapshot returns the progress of every tracked crawl ordered by survey
// and room type.
func (t *Tracker) Snapshot() []CrawlProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CrawlProgress, 0, len(t.crawls))
	for k, c := range t.crawls {
		out = append(out, CrawlProgress{
			SurveyID:  k.surveyID,
			RoomType:  k.roomType,
			StartedAt: c.startedAt,
			Stats:     c.src.Stats(),
		})
	}
	slices.SortFunc(out, func(a, b CrawlProgress) int {
		return cmp.Or(cmp.Compare(a.SurveyID, b.SurveyID), cmp.Compare(a.RoomType, b.RoomType))
	})
	return out
}

// NewRouter returns the HTTP handler serving /metrics, /healthz and /progress.
func NewRouter(m *Metrics, tracker *Tracker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{Registry: m.Registry()}))
	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tracker.Snapshot()); err != nil {
			logger.Warn("failed to write progress", "error", err)
		}
	})
	return r
}

// loggerMiddleware logs every request at debug level.
func loggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("metrics request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"elapsed", time.Since(start).String(),
			)
		})
	}
}

// Server serves a handler until shut down.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	done       chan error
}

// Start listens on addr and serves handler in the background.
func Start(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   logger,
		done:     make(chan error, 1),
	}
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("metrics server listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for active requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return <-s.done
}
