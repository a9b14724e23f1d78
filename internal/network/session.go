package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// maxRedirects is the redirect limit of a session.
const maxRedirects = 10

// Session is the identity an attempt is made with: a user agent, an
// optional proxy, and an HTTP client with its own cookie jar.
// A Session is used by one request at a time per worker but may be
// shared between workers; it is never mutated after creation.
type Session struct {
	// ID numbers sessions in creation order, starting at 1.
	ID int64

	// UserAgent is sent with every request of the session.
	UserAgent string

	// Proxy is the proxy entry as configured, "" for direct connections.
	Proxy string

	client *http.Client
}

// HTTPClient returns the session's HTTP client.
func (s *Session) HTTPClient() *http.Client {
	return s.client
}

// newSession builds a session routing through proxyURL (nil for direct).
func newSession(id int64, userAgent, rawProxy string, proxyURL *url.URL, timeout time.Duration) (*Session, error) {
	transport := &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	switch {
	case proxyURL == nil:
		transport.Proxy = http.ProxyFromEnvironment
	case proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			pass, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: pass}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = dialContext(dialer)
	default:
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &Session{
		ID:        id,
		UserAgent: userAgent,
		Proxy:     rawProxy,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			Jar:       jar,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}, nil
}

// dialContext adapts a proxy.Dialer to http.Transport.DialContext,
// using the context-aware path when the dialer provides one.
func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		resultCh := make(chan dialResult, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			resultCh <- dialResult{conn, err}
		}()
		select {
		case r := <-resultCh:
			return r.conn, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ParseProxy parses a proxy entry. A bare "host:port" is an HTTP proxy;
// otherwise the scheme must be http, https, socks5 or socks5h.
func ParseProxy(entry string) (*url.URL, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, ErrInvalidProxy
	}
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}

	u, err := url.Parse(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProxy, err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}

	if !isValidHostPort(u.Host) {
		return nil, fmt.Errorf("%w: bad address %q", ErrInvalidProxy, u.Host)
	}

	return u, nil
}

// isValidHostPort checks for a non-empty host and a port in 1..65535.
func isValidHostPort(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}
