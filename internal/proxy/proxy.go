// Package proxy forwards raw byte streams between local clients and a
// fixed remote endpoint.  Each accepted client gets its own remote
// connection and exactly two copying goroutines; when either direction
// ends, both connections are closed.
package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gocat/config"
	"gocat/internal/metrics"
	"gocat/internal/retry"
	"gocat/internal/transport"
	"gocat/util"
)

// Forwarder listens on Local and relays every client to Remote.
type Forwarder struct {
	Local  config.Connection
	Remote config.Connection

	// Dialer opens the remote leg; nil means plain TCP.
	Dialer  transport.Dialer
	Limiter *rate.Limiter
	Breaker *retry.CircuitBreaker
	Logger  *util.Logger
	Metrics *metrics.Collector

	mu   sync.Mutex
	addr net.Addr
}

// New builds a Forwarder from cfg.  The remote leg shares the local
// retry policy and never uses TLS.
func New(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *Forwarder {
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Forwarder{
		Local:   cfg.Conn,
		Remote:  cfg.Remote(),
		Limiter: transport.AcceptLimiter(cfg.AcceptRate),
		Breaker: newBreaker(logger),
		Logger:  logger,
		Metrics: m,
	}
}

func newBreaker(logger *util.Logger) *retry.CircuitBreaker {
	return retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  config.DefaultBreakerThreshold,
		ResetTimeout: config.DefaultBreakerReset,
		HalfOpenMax:  1,
		OnStateChange: func(from, to retry.State) {
			logger.Warn("remote circuit %s -> %s", from, to)
		},
	})
}

// Serve binds Local and forwards clients until ctx is done.
func (f *Forwarder) Serve(ctx context.Context) error {
	ln, err := transport.Listen(f.Local, transport.WithLogger(f.Logger))
	if err != nil {
		return err
	}
	return f.ServeListener(ctx, ln)
}

// ServeListener forwards clients accepted from ln until ctx is done.
func (f *Forwarder) ServeListener(ctx context.Context, ln net.Listener) error {
	f.mu.Lock()
	f.addr = ln.Addr()
	f.mu.Unlock()
	if f.Breaker == nil {
		f.Breaker = newBreaker(f.logger())
	}

	f.logger().Info("proxy %s -> %s", ln.Addr(), f.Remote.Addr())
	return transport.Serve(ctx, ln, f.Limiter, f.logger(), f.handle)
}

// Addr returns the bound address once serving has started.
func (f *Forwarder) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

func (f *Forwarder) logger() *util.Logger {
	if f.Logger == nil {
		f.Logger = util.NopLogger()
	}
	return f.Logger
}

// handle pairs one client with a fresh remote connection.
func (f *Forwarder) handle(ctx context.Context, client net.Conn) {
	start := time.Now()
	f.Metrics.ConnectionOpened()
	defer func() { f.Metrics.ConnectionClosed(time.Since(start)) }()

	opts := []transport.Option{transport.WithLogger(f.logger()), transport.WithMetrics(f.Metrics)}
	if f.Dialer != nil {
		opts = append(opts, transport.WithDialer(f.Dialer))
	}

	var remote net.Conn
	err := f.Breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		c, err := transport.Connect(ctx, f.Remote, opts...)
		remote = c
		return err
	})
	if err != nil {
		f.logger().Error("proxy %s: %v", client.RemoteAddr(), err)
		f.Metrics.RecordError("proxy", err.Error())
		client.Close() //nolint:errcheck
		return
	}

	f.logger().Verbose("proxy %s <-> %s", client.RemoteAddr(), remote.RemoteAddr())
	stats, err := util.Relay(ctx, client, remote, func(d util.Direction, n int) {
		if d == util.AToB {
			f.Metrics.BytesReceived(int64(n))
		} else {
			f.Metrics.BytesSent(int64(n))
		}
	})
	if err != nil {
		f.logger().Debug("proxy %s: %v", client.RemoteAddr(), err)
	}
	f.logger().Verbose("proxy %s closed: %d bytes to remote, %d bytes to client",
		client.RemoteAddr(), stats.AToB, stats.BToA)
}
