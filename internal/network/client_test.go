package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedServer answers with the given statuses in order and 200 "ok"
// once the script is exhausted.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(t *testing.T, maxAttempts int) (*Client, *SessionPool) {
	t.Helper()

	pool, err := NewSessionPool(PoolOptions{
		UserAgents: []string{"kanpora-test"},
		Timeout:    2 * time.Second,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return NewClient(pool, ClientOptions{MaxAttempts: maxAttempts, Logger: discardLogger()}), pool
}

func TestClient_Get(t *testing.T) {
	t.Parallel()

	t.Run("two 403 then 200 uses three sessions", func(t *testing.T) {
		t.Parallel()

		srv, hits := scriptedServer(t, http.StatusForbidden, http.StatusForbidden)
		client, pool := newTestClient(t, 3)

		body, err := client.Get(context.Background(), srv.URL, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != "ok" {
			t.Errorf("body = %q, want %q", body, "ok")
		}
		if got := client.SessionsCreated(); got != 3 {
			t.Errorf("sessions created = %d, want 3", got)
		}
		if got := pool.Created(); got != 3 {
			t.Errorf("pool sessions = %d, want 3", got)
		}
		if got := hits.Load(); got != 3 {
			t.Errorf("requests = %d, want 3", got)
		}
	})

	t.Run("empty 200 renews the session", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if hits.Add(1) == 1 {
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		t.Cleanup(srv.Close)
		client, pool := newTestClient(t, 3)

		if _, err := client.Get(context.Background(), srv.URL, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := pool.Created(); got != 2 {
			t.Errorf("sessions created = %d, want 2", got)
		}
	})

	t.Run("successful calls keep the session", func(t *testing.T) {
		t.Parallel()

		srv, _ := scriptedServer(t)
		client, pool := newTestClient(t, 3)

		for range 3 {
			if _, err := client.Get(context.Background(), srv.URL, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if got := pool.Created(); got != 1 {
			t.Errorf("sessions created = %d, want 1", got)
		}
	})

	t.Run("attempt ceiling is honored", func(t *testing.T) {
		t.Parallel()

		srv, hits := scriptedServer(t,
			http.StatusInternalServerError, http.StatusInternalServerError,
			http.StatusInternalServerError, http.StatusInternalServerError)
		client, _ := newTestClient(t, 3)

		_, err := client.Get(context.Background(), srv.URL, nil)
		if !errors.Is(err, ErrNoResponse) {
			t.Fatalf("expected ErrNoResponse, got %v", err)
		}
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected *RequestError, got %T", err)
		}
		if reqErr.Kind != FailureHTTPStatus || reqErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("unexpected failure: %+v", reqErr)
		}
		if reqErr.Attempts != 3 || hits.Load() != 3 {
			t.Errorf("attempts = %d, requests = %d, want 3 and 3", reqErr.Attempts, hits.Load())
		}
	})

	t.Run("blocked on every attempt", func(t *testing.T) {
		t.Parallel()

		srv, _ := scriptedServer(t, http.StatusForbidden, http.StatusForbidden)
		client, _ := newTestClient(t, 2)

		_, err := client.Get(context.Background(), srv.URL, nil)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Kind != FailureBlocked {
			t.Fatalf("expected blocked failure, got %v", err)
		}
	})

	t.Run("sends params, user agent and locale cookie", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			gotReq  *http.Request
			gotBody = []byte(`{"explore_tabs":[]}`)
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotReq = r.Clone(context.Background())
			mu.Unlock()
			_, _ = w.Write(gotBody)
		}))
		t.Cleanup(srv.Close)
		client, _ := newTestClient(t, 1)

		params := url.Values{"items_offset": {"36"}, "ne_lat": {"43.5"}}
		if _, err := client.Get(context.Background(), srv.URL+"/s/homes", params); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if gotReq.URL.Path != "/s/homes" || gotReq.URL.Query().Get("items_offset") != "36" {
			t.Errorf("unexpected request url: %s", gotReq.URL)
		}
		if ua := gotReq.Header.Get("User-Agent"); ua != "kanpora-test" {
			t.Errorf("user agent = %q", ua)
		}
		c, err := gotReq.Cookie("sticky_locale")
		if err != nil || c.Value != "en" {
			t.Errorf("expected sticky_locale=en cookie, got %v (%v)", c, err)
		}
	})
}

func TestClient_FailureKinds(t *testing.T) {
	t.Parallel()

	t.Run("redirect loop", func(t *testing.T) {
		t.Parallel()

		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
		}))
		t.Cleanup(srv.Close)
		client, _ := newTestClient(t, 1)

		_, err := client.Get(context.Background(), srv.URL, nil)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Kind != FailureTooManyRedirects {
			t.Fatalf("expected too many redirects, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(srv.Close)

		pool, err := NewSessionPool(PoolOptions{Timeout: 50 * time.Millisecond, Logger: discardLogger()})
		if err != nil {
			t.Fatalf("failed to create pool: %v", err)
		}
		client := NewClient(pool, ClientOptions{MaxAttempts: 1, Logger: discardLogger()})

		_, err = client.Get(context.Background(), srv.URL, nil)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Kind != FailureTimeout {
			t.Fatalf("expected timeout, got %v", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		client, _ := newTestClient(t, 2)

		_, err := client.Get(context.Background(), addr, nil)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Kind != FailureConnection {
			t.Fatalf("expected connection failure, got %v", err)
		}
	})

	t.Run("canceled context makes no request", func(t *testing.T) {
		t.Parallel()

		srv, hits := scriptedServer(t)
		client, _ := newTestClient(t, 3)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Get(ctx, srv.URL, nil)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Kind != FailureCanceled {
			t.Fatalf("expected canceled failure, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
		if hits.Load() != 0 {
			t.Errorf("expected no request, got %d", hits.Load())
		}
	})
}

type countingObserver struct {
	mu       sync.Mutex
	kinds    map[FailureKind]int
	sessions int
	evicted  int
}

func (o *countingObserver) RequestDone(kind FailureKind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[FailureKind]int)
	}
	o.kinds[kind]++
}

func (o *countingObserver) SessionCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions++
}

func (o *countingObserver) ProxyEvicted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted++
}

func TestClient_Observer(t *testing.T) {
	t.Parallel()

	srv, _ := scriptedServer(t, http.StatusForbidden, http.StatusBadGateway)
	obs := &countingObserver{}
	pool, err := NewSessionPool(PoolOptions{Timeout: time.Second, Logger: discardLogger(), Observer: obs})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	client := NewClient(pool, ClientOptions{MaxAttempts: 3, Logger: discardLogger(), Observer: obs})

	if _, err := client.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.kinds[FailureBlocked] != 1 || obs.kinds[FailureHTTPStatus] != 1 || obs.kinds[FailureNone] != 1 {
		t.Errorf("unexpected outcome counts: %v", obs.kinds)
	}
	if obs.sessions != 3 {
		t.Errorf("sessions = %d, want 3", obs.sessions)
	}
}

func TestFailureKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  FailureKind
		label string
		renew bool
	}{
		{FailureNone, "none", false},
		{FailureEmptyBody, "empty_body", true},
		{FailureBlocked, "blocked", true},
		{FailureHTTPStatus, "http_status", false},
		{FailureTimeout, "timeout", false},
		{FailureConnection, "connection", false},
		{FailureTooManyRedirects, "too_many_redirects", false},
		{FailureCanceled, "canceled", false},
		{FailureKind(99), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()

			if got := tt.kind.String(); got != tt.label {
				t.Errorf("String() = %q, want %q", got, tt.label)
			}
			if got := tt.kind.RenewsSession(); got != tt.renew {
				t.Errorf("RenewsSession() = %v, want %v", got, tt.renew)
			}
		})
	}
}
