package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxBodySize caps the bytes read from one response.
const DefaultMaxBodySize = 10 * 1024 * 1024

// localeCookie is sent with every request so the remote service answers
// in a stable language regardless of the proxy's location.
var localeCookie = &http.Cookie{Name: "sticky_locale", Value: "en"}

// ClientOptions configures a Client.
type ClientOptions struct {
	// MaxAttempts caps the attempts of one Get call. At least one attempt is made.
	MaxAttempts int

	// RequestSleep is the upper bound of the random wait before each attempt.
	// The wait only blocks the calling goroutine.
	RequestSleep time.Duration

	// MaxBodySize caps the bytes read from a response. DefaultMaxBodySize when 0.
	MaxBodySize int64

	// Logger receives attempt failures. slog.Default is used when nil.
	Logger *slog.Logger

	// Observer is notified after each attempt.
	Observer Observer
}

// Client issues GET requests against the remote service with retries and
// session rotation. It is safe for concurrent use.
//
// Every failed attempt discards the session it used, so the next attempt
// runs with a new user agent and proxy choice.
type Client struct {
	sessions    SessionFactory
	maxAttempts int
	sleep       time.Duration
	maxBody     int64
	logger      *slog.Logger
	observer    Observer

	created atomic.Int64

	mu      sync.Mutex
	current *Session
}

// NewClient creates a Client drawing sessions from factory.
func NewClient(factory SessionFactory, opts ClientOptions) *Client {
	c := &Client{
		sessions:    factory,
		maxAttempts: max(opts.MaxAttempts, 1),
		sleep:       opts.RequestSleep,
		maxBody:     opts.MaxBodySize,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
	if c.maxBody <= 0 {
		c.maxBody = DefaultMaxBodySize
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}
	return c
}

// Get requests rawURL with params and returns the body of the first
// HTTP 200 with a non-empty body. After MaxAttempts failed attempts it
// returns a *RequestError wrapping ErrNoResponse.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}

	last := &RequestError{}
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		last.Attempts = attempt

		if err := sleepContext(ctx, c.jitter()); err != nil {
			return nil, canceled(attempt, err)
		}

		sess, err := c.session(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, canceled(attempt, ctx.Err())
			}
			return nil, fmt.Errorf("failed to obtain session: %w", err)
		}

		start := time.Now()
		body, status, kind, err := c.do(ctx, sess, target)
		c.observer.RequestDone(kind, time.Since(start))

		if kind == FailureNone {
			return body, nil
		}
		if kind == FailureCanceled {
			return nil, canceled(attempt, err)
		}

		last.Kind, last.StatusCode, last.Err = kind, status, err

		if kind == FailureBlocked {
			c.sessions.ReportBlocked(sess)
		}
		c.discard(sess)

		level := slog.LevelWarn
		if kind.RenewsSession() {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "request attempt failed",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"kind", kind.String(),
			"status", status,
			"session", sess.ID,
			"proxy", sess.Proxy,
			"error", err,
		)
	}

	return nil, last
}

// SessionsCreated returns the number of sessions this client has built.
func (c *Client) SessionsCreated() int64 {
	return c.created.Load()
}

// session returns the current session, creating one if none is active.
func (c *Client) session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}

	s, err := c.sessions.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	c.created.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	// the newest session wins when workers race here
	c.current = s
	return s, nil
}

// discard drops s if it is still the current session.
func (c *Client) discard(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
	s.HTTPClient().CloseIdleConnections()
}

// do performs one attempt and classifies its outcome.
func (c *Client) do(ctx context.Context, s *Session, target *url.URL) ([]byte, int, FailureKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, FailureConnection, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")
	req.AddCookie(localeCookie)

	resp, err := s.HTTPClient().Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, err), err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody)) //nolint:errcheck // drained for connection reuse
		return nil, resp.StatusCode, FailureBlocked, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody)) //nolint:errcheck // drained for connection reuse
		return nil, resp.StatusCode, FailureHTTPStatus, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(ctx, err), fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) == 0 {
		return nil, resp.StatusCode, FailureEmptyBody, nil
	}
	return body, resp.StatusCode, FailureNone, nil
}

// classifyTransportError maps an error from the HTTP round trip to a FailureKind.
func classifyTransportError(ctx context.Context, err error) FailureKind {
	if ctx.Err() != nil {
		return FailureCanceled
	}
	if errors.Is(err, ErrTooManyRedirects) {
		return FailureTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}

// jitter returns a random wait in [0, RequestSleep).
func (c *Client) jitter() time.Duration {
	if c.sleep <= 0 {
		return 0
	}
	return rand.N(c.sleep) //nolint:gosec // request pacing only
}

func canceled(attempts int, err error) *RequestError {
	return &RequestError{Kind: FailureCanceled, Attempts: attempts, Err: err}
}
