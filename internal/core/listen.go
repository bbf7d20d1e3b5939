package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gocat/config"
	"gocat/internal/capability"
	ncerr "gocat/internal/errors"
	"gocat/internal/retry"
	"gocat/internal/transport"
	"gocat/tunnel"
)

// ListenMode accepts inbound connections and runs a capability on
// each one.  By default every client gets its own goroutine; with
// Single it serves exactly one client and stops listening.
type ListenMode struct {
	Kind       config.Mode
	Conn       config.Connection
	Single     bool
	Limiter    *rate.Limiter
	Capability capability.Capability

	// Tunnel, when set, binds on the SSH gateway instead of locally.
	Tunnel tunnel.Tunnel
	// Reconnect paces re-binding on the gateway; nil uses the defaults.
	Reconnect *retry.Backoff
	Deps

	mu   sync.Mutex
	addr net.Addr
}

// Run binds the listener and dispatches accepted connections to the
// capability until ctx is done.
func (m *ListenMode) Run(ctx context.Context) error {
	if m.Tunnel != nil {
		return m.runOnGateway(ctx)
	}
	ln, err := transport.Listen(m.Conn, transport.WithLogger(m.logger()))
	if err != nil {
		m.Metrics.RecordError("bind", err.Error())
		return err
	}
	return m.ServeListener(ctx, ln)
}

// runOnGateway serves on the SSH gateway.  When the SSH connection
// drops, the listener is re-bound with exponential backoff.  A failure
// to bind the first time, or rejected credentials, is returned.
func (m *ListenMode) runOnGateway(ctx context.Context) error {
	defer m.Tunnel.Close()

	ln, err := m.listenOnGateway(ctx)
	if err != nil {
		m.Metrics.RecordError("bind", err.Error())
		return err
	}

	bo := m.Reconnect
	if bo == nil {
		bo = retry.Exponential(config.DefaultReconnectDelay, config.DefaultReconnectMax)
	}
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.logger().Warn("gateway: %v; retrying in %s", err, wait.Round(time.Millisecond))
	}

	for {
		if err := m.ServeListener(ctx, ln); err != nil || ctx.Err() != nil || m.Single {
			return err
		}

		m.logger().Warn("gateway connection lost; reconnecting")
		m.Tunnel.Close() //nolint:errcheck
		err := bo.Do(ctx, func(int) error {
			l, err := m.listenOnGateway(ctx)
			if errors.Is(err, ncerr.ErrAuthFailed) {
				return retry.Permanent(err)
			}
			ln = l
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (m *ListenMode) listenOnGateway(ctx context.Context) (net.Listener, error) {
	if err := m.Tunnel.Connect(ctx); err != nil {
		return nil, err
	}
	ln, err := m.Tunnel.Listen(m.Conn.Host, m.Conn.Port)
	if err != nil {
		m.Tunnel.Close() //nolint:errcheck
		return nil, err
	}
	return transport.Secure(ln, m.Conn, transport.WithLogger(m.logger()))
}

// ServeListener runs the accept loop on an already bound listener.
func (m *ListenMode) ServeListener(ctx context.Context, ln net.Listener) error {
	m.mu.Lock()
	m.addr = ln.Addr()
	m.mu.Unlock()

	m.logger().Info("listening on %s (%s)", ln.Addr(), m.Kind)
	if m.Single {
		return m.acceptOne(ctx, ln)
	}
	return transport.Serve(ctx, ln, m.Limiter, m.logger(), func(ctx context.Context, conn net.Conn) {
		if err := m.serveConn(ctx, conn); err != nil {
			m.logger().Error("session with %s: %v", conn.RemoteAddr(), err)
		}
	})
}

// Addr returns the bound address once serving has started.
func (m *ListenMode) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// acceptOne serves the first client only; the listener is closed as
// soon as it has been accepted.
func (m *ListenMode) acceptOne(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	conn, err := ln.Accept()
	stop()
	ln.Close() //nolint:errcheck
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return ncerr.Wrap("accept", ln.Addr().String(), err)
	}
	m.logger().Verbose("connection from %s", conn.RemoteAddr())
	return m.serveConn(ctx, conn)
}

func (m *ListenMode) serveConn(ctx context.Context, conn net.Conn) error {
	sess := m.newSession(conn, m.Kind)
	m.logger().Info("client %s connected (session %s)", sess.Peer(), sess.ID)
	err := m.Capability.Handle(ctx, sess)
	m.logger().Info("client %s disconnected", sess.Peer())
	return err
}
