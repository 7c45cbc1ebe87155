// ABOUTME: Ephemeral child-server connections with bounded retry and guaranteed teardown
// ABOUTME: Every tool call opens, uses, and closes its own connection; nothing is pooled

package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/fanout-gateway/internal/store"
)

// Connector opens ephemeral connections to child servers. Connections are
// never reused across requests: a stale cached connection could silently
// serve one user's call with another user's credentials.
type Connector struct {
	dialer      Dialer
	pool        *Pool
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// New creates a connector with the given dialer, pool, and retry policy.
func New(dialer Dialer, pool *Pool, maxAttempts int, retryDelay time.Duration, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Connector{
		dialer:      dialer,
		pool:        pool,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger.With("component", "connector"),
	}
}

// Conn is a connected child-server session plus its cleanup.
type Conn struct {
	Session Session
	kind    store.TransportKind
	pool    *Pool

	closeOnce sync.Once
	closeErr  error
}

// Close tears down the transport. Safe to call more than once; only the
// first call does work.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Session.Close()
		if c.pool != nil {
			c.pool.release(c.kind)
		}
	})
	return c.closeErr
}

// Connect opens a connection to the configured child server, retrying
// connection failures up to the configured attempt count with a fixed
// inter-attempt delay.
//
// The attempt loop is an explicit state machine:
//
//	Attempting(n) -> ConnectedOk
//	             -> Failed(n) -> CleaningUpForRetry -> Attempting(n+1)   (n < max)
//	             -> Failed(n) -> CleaningUpFinal    -> TerminallyFailed  (n == max)
//
// A dialer construction error is a hard failure and is not retried.
func (c *Connector) Connect(ctx context.Context, cfg Config) (*Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		session, err := c.dialer.Dial(cfg)
		if err != nil {
			// Transport construction failed; retrying cannot help.
			return nil, fmt.Errorf("constructing %s transport: %w", cfg.Kind, err)
		}

		connectErr := session.Connect(ctx)
		if connectErr == nil {
			if c.pool != nil {
				c.pool.acquire(cfg.Kind)
			}
			return &Conn{Session: session, kind: cfg.Kind, pool: c.pool}, nil
		}
		lastErr = connectErr

		// Close the half-open session before the next attempt. Close errors
		// are logged and suppressed; the connect error is what matters.
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Warn("closing failed connection",
				"transport", cfg.Kind,
				"attempt", attempt,
				"error", closeErr)
		}

		c.logger.Warn("child server connection failed",
			"transport", cfg.Kind,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", lastErr)

		if attempt == c.maxAttempts {
			break // final attempt: no delay after cleanup
		}

		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to child server: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("connecting to child server after %d attempts: %w", c.maxAttempts, lastErr)
}

// Group holds the results of a bulk connect. Every config is attempted;
// one server's failure does not stop the others.
type Group struct {
	Conns  []*Conn
	Errors map[int]error // index into the input configs -> failure
	logger *slog.Logger
}

// ConnectAll attempts a connection for every config.
func (c *Connector) ConnectAll(ctx context.Context, cfgs []Config) *Group {
	group := &Group{Errors: make(map[int]error), logger: c.logger}
	for i, cfg := range cfgs {
		conn, err := c.Connect(ctx, cfg)
		if err != nil {
			group.Errors[i] = err
			continue
		}
		group.Conns = append(group.Conns, conn)
	}
	return group
}

// CloseAll closes every successfully connected session, tolerating
// individual close failures without aborting the rest. Returns the first
// error encountered.
func (g *Group) CloseAll() error {
	var firstErr error
	for _, conn := range g.Conns {
		if err := conn.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if g.logger != nil {
				g.logger.Warn("closing child server connection", "error", err)
			}
		}
	}
	return firstErr
}
