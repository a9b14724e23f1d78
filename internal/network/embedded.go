package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultTorStartupTimeout bounds the embedded Tor bootstrap.
const DefaultTorStartupTimeout = 3 * time.Minute

// probeTimeout bounds the SOCKS5 handshake done after Tor starts.
const probeTimeout = 2 * time.Second

// EmbeddedTor runs a Tor daemon through tornago so that its SOCKS port can
// join the proxy pool. Tor exits rotate per circuit, which gives blocked
// sessions a fresh address without a paid proxy list.
//
// Starting takes one to three minutes while Tor builds its first circuits.
type EmbeddedTor struct {
	process        *tornago.TorProcess
	socksAddr      string
	startupTimeout time.Duration
}

// EmbeddedTorOption configures an EmbeddedTor.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEmbeddedTor creates an embedded Tor manager. Call Start to launch it.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{startupTimeout: DefaultTorStartupTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon on OS-assigned ports and waits for bootstrap.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	if ctx.Err() != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return ctx.Err()
	}

	if err := ProbeSOCKS5(ctx, process.SocksAddr()); err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return err
	}

	e.process = process
	e.socksAddr = process.SocksAddr()
	return nil
}

// Stop shuts the daemon down. It is safe on an unstarted instance.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	return err
}

// IsRunning reports whether the daemon is running.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// ProxyURL returns the proxy pool entry of the daemon. Hostnames are
// resolved by Tor (socks5h).
func (e *EmbeddedTor) ProxyURL() (string, error) {
	if !e.IsRunning() {
		return "", ErrTorNotRunning
	}
	return "socks5h://" + e.socksAddr, nil
}

// ProbeSOCKS5 checks that addr answers a SOCKS5 greeting offering no
// authentication.
func ProbeSOCKS5(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot connect to SOCKS5 proxy %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(probeTimeout)); err != nil {
		return fmt.Errorf("cannot connect to SOCKS5 proxy %s: %w", addr, err)
	}

	// version 5, one method, no authentication
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return fmt.Errorf("cannot connect to SOCKS5 proxy %s: %w", addr, err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("%w: %s did not answer the greeting", ErrInvalidProxy, addr)
	}
	if resp[0] != 0x05 || resp[1] != 0x00 {
		return fmt.Errorf("%w: %s is not a SOCKS5 proxy without auth", ErrInvalidProxy, addr)
	}
	return nil
}
