// Package netcheck detects the absence of network connectivity before a
// slow remote call is attempted.
package netcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrOffline is returned when no probe address accepts a connection.
var ErrOffline = errors.New("no network connectivity")

// DefaultTimeout bounds each dial.
const DefaultTimeout = 3 * time.Second

// Checker dials a set of TCP addresses and succeeds on the first that
// accepts a connection.
type Checker struct {
	Addrs   []string
	Timeout time.Duration
}

// New returns a Checker for the given host:port addresses.
func New(addrs ...string) *Checker {
	return &Checker{Addrs: addrs, Timeout: DefaultTimeout}
}

// ForURL returns a Checker that dials the host of rawURL, using the scheme's
// default port when none is given.
func ForURL(rawURL string) (*Checker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return New(net.JoinHostPort(u.Hostname(), port)), nil
}

// Probe returns nil once any address accepts a TCP connection. Otherwise it
// returns ErrOffline wrapping the last dial error, or the context error when
// ctx ends first.
func (c *Checker) Probe(ctx context.Context) error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("%w: no probe addresses", ErrOffline)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var lastErr error
	for _, addr := range c.Addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrOffline, lastErr)
}
