package network

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
	"time"
)

// SessionFactory hands out sessions to the Client.
type SessionFactory interface {
	// NewSession builds a session with a fresh user agent and proxy choice.
	NewSession(ctx context.Context) (*Session, error)

	// ReportBlocked tells the factory the session was answered with 403.
	ReportBlocked(s *Session)
}

// PoolOptions configures a SessionPool.
type PoolOptions struct {
	// UserAgents to draw from. DefaultUserAgent is used when empty.
	UserAgents []string

	// Proxies to draw from. Sessions connect directly when empty.
	Proxies []string

	// Timeout of a single HTTP request of a session.
	Timeout time.Duration

	// ReinitSleep is the wait before an exhausted proxy pool is refilled.
	ReinitSleep time.Duration

	// EvictProbability is the chance a blocked proxy is removed.
	EvictProbability float64

	// Rand is the random source. A time-seeded source is used when nil.
	Rand *rand.Rand

	// Logger receives pool events. slog.Default is used when nil.
	Logger *slog.Logger

	// Observer is notified of created sessions and evicted proxies.
	Observer Observer
}

// DefaultUserAgent is used when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0"

// SessionPool is the synchronized user agent and proxy pool.
// Proxy selection and removal happen under one mutex, so concurrent
// workers never remove the same entry twice or race on the pool size.
type SessionPool struct {
	mu      sync.Mutex
	rng     *rand.Rand
	created int64

	userAgents  []string
	configured  []string
	proxies     []string
	parsed      map[string]*url.URL
	timeout     time.Duration
	reinitSleep time.Duration
	evictProb   float64

	logger   *slog.Logger
	observer Observer
}

// NewSessionPool validates every proxy entry and builds the pool.
func NewSessionPool(opts PoolOptions) (*SessionPool, error) {
	parsed := make(map[string]*url.URL, len(opts.Proxies))
	for _, p := range opts.Proxies {
		u, err := ParseProxy(p)
		if err != nil {
			return nil, err
		}
		parsed[p] = u
	}

	userAgents := slices.Clone(opts.UserAgents)
	if len(userAgents) == 0 {
		userAgents = []string{DefaultUserAgent}
	}

	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano()) //nolint:gosec // not security sensitive
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &SessionPool{
		rng:         rng,
		userAgents:  userAgents,
		configured:  slices.Clone(opts.Proxies),
		proxies:     slices.Clone(opts.Proxies),
		parsed:      parsed,
		timeout:     opts.Timeout,
		reinitSleep: opts.ReinitSleep,
		evictProb:   opts.EvictProbability,
		logger:      logger,
		observer:    observer,
	}, nil
}

// NewSession implements SessionFactory. When every configured proxy has
// been evicted it waits ReinitSleep, then refills the pool.
func (p *SessionPool) NewSession(ctx context.Context) (*Session, error) {
	if err := p.refillIfExhausted(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	ua := p.userAgents[p.rng.IntN(len(p.userAgents))]
	var rawProxy string
	if len(p.proxies) > 0 {
		rawProxy = p.proxies[p.rng.IntN(len(p.proxies))]
	}
	p.created++
	id := p.created
	p.mu.Unlock()

	s, err := newSession(id, ua, rawProxy, p.parsed[rawProxy], p.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	p.observer.SessionCreated()
	p.logger.Debug("new session", "session", id, "user_agent", ua, "proxy", rawProxy)
	return s, nil
}

// refillIfExhausted sleeps without holding the lock so other workers keep
// going; only the first worker to wake up refills.
func (p *SessionPool) refillIfExhausted(ctx context.Context) error {
	p.mu.Lock()
	exhausted := len(p.configured) > 0 && len(p.proxies) == 0
	p.mu.Unlock()
	if !exhausted {
		return nil
	}

	p.logger.Warn("proxy pool exhausted, waiting before refill", "wait", p.reinitSleep)
	if err := sleepContext(ctx, p.reinitSleep); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		p.proxies = slices.Clone(p.configured)
		p.logger.Info("proxy pool refilled", "proxies", len(p.proxies))
	}
	return nil
}

// ReportBlocked implements SessionFactory. The session's proxy is removed
// with the configured probability. Removing an absent proxy is a no-op.
func (p *SessionPool) ReportBlocked(s *Session) {
	if s == nil || s.Proxy == "" {
		return
	}

	p.mu.Lock()
	idx := slices.Index(p.proxies, s.Proxy)
	if idx < 0 || p.rng.Float64() >= p.evictProb {
		p.mu.Unlock()
		return
	}
	p.proxies = slices.Delete(p.proxies, idx, idx+1)
	remaining := len(p.proxies)
	p.mu.Unlock()

	p.observer.ProxyEvicted()
	p.logger.Info("proxy removed from pool", "proxy", s.Proxy, "remaining", remaining)
}

// Len returns the number of proxies currently in the pool.
func (p *SessionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Created returns the number of sessions built so far.
func (p *SessionPool) Created() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// sleepContext waits d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
