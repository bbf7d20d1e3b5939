package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes plain TCP connections.  Keepalive is applied at
// the socket level before Dial returns, so it is in place before any
// TLS handshake.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive bool
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: keepAlivePeriod(d.KeepAlive),
	}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
