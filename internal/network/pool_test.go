package network

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

func newTestPool(t *testing.T, opts PoolOptions) *SessionPool {
	t.Helper()

	opts.Logger = discardLogger()
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	pool, err := NewSessionPool(opts)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

func TestSessionPool_NewSession(t *testing.T) {
	t.Parallel()

	t.Run("default user agent and direct connection", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{})
		s, err := pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.UserAgent != DefaultUserAgent || s.Proxy != "" {
			t.Errorf("unexpected session: ua=%q proxy=%q", s.UserAgent, s.Proxy)
		}
		if s.ID != 1 || s.HTTPClient() == nil || s.HTTPClient().Jar == nil {
			t.Errorf("unexpected session state: %+v", s)
		}
	})

	t.Run("draws from the configured pools", func(t *testing.T) {
		t.Parallel()

		uas := []string{"ua-a", "ua-b"}
		proxies := []string{"10.0.0.1:3128", "socks5://10.0.0.2:1080"}
		pool := newTestPool(t, PoolOptions{UserAgents: uas, Proxies: proxies})

		seenProxy := map[string]bool{}
		for range 50 {
			s, err := pool.NewSession(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.UserAgent != "ua-a" && s.UserAgent != "ua-b" {
				t.Fatalf("unexpected user agent %q", s.UserAgent)
			}
			seenProxy[s.Proxy] = true
		}
		if len(seenProxy) != 2 {
			t.Errorf("expected both proxies to be used, got %v", seenProxy)
		}
		if pool.Created() != 50 {
			t.Errorf("Created() = %d, want 50", pool.Created())
		}
	})

	t.Run("invalid proxy is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewSessionPool(PoolOptions{Proxies: []string{"ftp://10.0.0.1:21"}})
		if !errors.Is(err, ErrInvalidProxy) {
			t.Errorf("expected ErrInvalidProxy, got %v", err)
		}
	})
}

func TestSessionPool_ReportBlocked(t *testing.T) {
	t.Parallel()

	t.Run("evicts with probability one", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{Proxies: []string{"10.0.0.1:3128", "10.0.0.2:3128"}, EvictProbability: 1})
		s, err := pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pool.ReportBlocked(s)
		pool.ReportBlocked(s)
		if pool.Len() != 1 {
			t.Errorf("Len() = %d, want 1", pool.Len())
		}
	})

	t.Run("keeps with probability zero", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{Proxies: []string{"10.0.0.1:3128"}, EvictProbability: 0})
		s, err := pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pool.ReportBlocked(s)
		if pool.Len() != 1 {
			t.Errorf("Len() = %d, want 1", pool.Len())
		}
	})

	t.Run("concurrent reports remove an entry once", func(t *testing.T) {
		t.Parallel()

		proxies := []string{"10.0.0.1:3128", "10.0.0.2:3128", "10.0.0.3:3128"}
		pool := newTestPool(t, PoolOptions{Proxies: proxies, EvictProbability: 1})
		blocked := &Session{Proxy: proxies[0]}

		var wg sync.WaitGroup
		for range 20 {
			wg.Go(func() { pool.ReportBlocked(blocked) })
		}
		wg.Wait()

		if pool.Len() != 2 {
			t.Errorf("Len() = %d, want 2", pool.Len())
		}
	})

	t.Run("direct session is ignored", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{EvictProbability: 1})
		pool.ReportBlocked(&Session{})
		pool.ReportBlocked(nil)
	})
}

func TestSessionPool_Refill(t *testing.T) {
	t.Parallel()

	t.Run("exhausted pool refills after the wait", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{
			Proxies:          []string{"10.0.0.1:3128"},
			EvictProbability: 1,
			ReinitSleep:      10 * time.Millisecond,
		})
		s, err := pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pool.ReportBlocked(s)
		if pool.Len() != 0 {
			t.Fatalf("Len() = %d, want 0", pool.Len())
		}

		s, err = pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pool.Len() != 1 || s.Proxy != "10.0.0.1:3128" {
			t.Errorf("expected refilled pool, Len()=%d proxy=%q", pool.Len(), s.Proxy)
		}
	})

	t.Run("cancel interrupts the wait", func(t *testing.T) {
		t.Parallel()

		pool := newTestPool(t, PoolOptions{
			Proxies:          []string{"10.0.0.1:3128"},
			EvictProbability: 1,
			ReinitSleep:      time.Hour,
		})
		s, err := pool.NewSession(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pool.ReportBlocked(s)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := pool.NewSession(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestParseProxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entry   string
		scheme  string
		wantErr bool
	}{
		{name: "bare host port", entry: "10.0.0.1:3128", scheme: "http"},
		{name: "http url", entry: "http://user:pw@proxy.local:8080", scheme: "http"},
		{name: "https url", entry: "https://proxy.local:443", scheme: "https"},
		{name: "socks5", entry: "socks5://127.0.0.1:9050", scheme: "socks5"},
		{name: "socks5h", entry: "socks5h://127.0.0.1:9050", scheme: "socks5h"},
		{name: "empty", entry: " ", wantErr: true},
		{name: "missing port", entry: "10.0.0.1", wantErr: true},
		{name: "port out of range", entry: "10.0.0.1:70000", wantErr: true},
		{name: "unsupported scheme", entry: "ftp://10.0.0.1:21", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := ParseProxy(tt.entry)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidProxy) {
					t.Errorf("expected ErrInvalidProxy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Scheme != tt.scheme {
				t.Errorf("scheme = %q, want %q", u.Scheme, tt.scheme)
			}
		})
	}
}

func TestEmbeddedTor(t *testing.T) {
	t.Parallel()

	t.Run("defaults and options", func(t *testing.T) {
		t.Parallel()

		if e := NewEmbeddedTor(); e.startupTimeout != DefaultTorStartupTimeout {
			t.Errorf("startupTimeout = %v", e.startupTimeout)
		}
		if e := NewEmbeddedTor(WithStartupTimeout(time.Minute)); e.startupTimeout != time.Minute {
			t.Errorf("startupTimeout = %v", e.startupTimeout)
		}
	})

	t.Run("unstarted instance", func(t *testing.T) {
		t.Parallel()

		e := NewEmbeddedTor()
		if e.IsRunning() {
			t.Error("expected not running")
		}
		if _, err := e.ProxyURL(); !errors.Is(err, ErrTorNotRunning) {
			t.Errorf("expected ErrTorNotRunning, got %v", err)
		}
		if err := e.Stop(); err != nil {
			t.Errorf("Stop on unstarted instance: %v", err)
		}
	})
}
