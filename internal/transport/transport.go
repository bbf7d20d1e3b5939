// Package transport establishes the connections every gocat mode runs
// on: outbound dials with a fixed retry policy, keepalive and optional
// TLS, and inbound listeners with optional TLS.  What happens over a
// connection is the session layer's job.
package transport

import (
	"context"
	"net"
	"time"

	"gocat/internal/metrics"
	"gocat/util"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Option customises Connect and Listen.
type Option func(*options)

type options struct {
	dialer  Dialer
	logger  *util.Logger
	metrics *metrics.Collector
}

// WithDialer replaces the default TCP dialer, e.g. with an SSHDialer.
func WithDialer(d Dialer) Option { return func(o *options) { o.dialer = d } }

// WithLogger sets the logger for attempt and certificate messages.
func WithLogger(l *util.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records retries on m.
func WithMetrics(m *metrics.Collector) Option { return func(o *options) { o.metrics = m } }

func collect(opts []Option) *options {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = util.NopLogger()
	}
	return o
}

// keepAlivePeriod maps the on/off setting to the net package's
// convention: zero selects the OS default period, negative disables.
func keepAlivePeriod(on bool) time.Duration {
	if on {
		return 0
	}
	return -1
}
