// Package connect gates transmission on network reachability. The daemon
// retries long enough to ride out a router reboot and then gives up so the
// service manager can restart the whole unit; the cycle-powered variant
// gets one short bounded wait per cycle and skips transmission on failure.
package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
)

// Probe budget defaults: one dial per second, 600 attempts, then escalate.
const (
	DefaultInterval    = time.Second
	DefaultAttempts    = 600
	DefaultDialTimeout = time.Second
)

// ErrUnreachable reports an exhausted probe budget.
var ErrUnreachable = errors.New("connect: target unreachable after retry budget")

// Checker reports whether the transmission target is reachable.
type Checker interface {
	// Ensure blocks until the target answers, the attempt budget runs out
	// (ErrUnreachable), or ctx ends.
	Ensure(ctx context.Context) error
}

// Probe checks reachability by dialing a TCP address.
type Probe struct {
	// Addr is the host:port to dial.
	Addr string
	// Interval between attempts, DefaultInterval when zero.
	Interval time.Duration
	// Attempts caps the number of dials, DefaultAttempts when zero.
	Attempts uint64
	// DialTimeout bounds a single dial, DefaultDialTimeout when zero.
	DialTimeout time.Duration

	// dial is injectable for tests.
	dial func(ctx context.Context, addr string, timeout time.Duration) error
}

// Ensure dials the target on a constant backoff until it answers.
func (p *Probe) Ensure(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dial := p.dial
	if dial == nil {
		dial = dialTCP
	}

	op := func() error {
		if err := dial(ctx, p.Addr, timeout); err != nil {
			return fmt.Errorf("probe %s: %w", p.Addr, err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// TargetAddr extracts a host:port probe target from a transmit endpoint
// URL, filling in the scheme's default port when the URL has none.
func TargetAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("endpoint %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http", "ws":
			port = "80"
		case "https", "wss":
			port = "443"
		case "tcp", "mqtt":
			port = "1883"
		case "ssl", "tls", "mqtts":
			port = "8883"
		default:
			return "", fmt.Errorf("endpoint %q has no port", rawURL)
		}
	}
	return net.JoinHostPort(host, port), nil
}
