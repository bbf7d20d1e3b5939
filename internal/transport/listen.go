package transport

import (
	"context"
	"crypto/tls"
	"net"

	"gocat/config"
	ncerr "gocat/internal/errors"
)

// Listen binds c.Host:c.Port (all interfaces when Host is empty).  Bind
// failures are returned at once as a *errors.ConnectError; there is no
// retry on the listening side.  Accepted connections get keepalive per
// c.KeepAlive.  With c.TLS the listener is wrapped so each accepted
// connection performs its server handshake on first read or write.
func Listen(c config.Connection, opts ...Option) (net.Listener, error) {
	o := collect(opts)
	addr := c.Addr()

	lc := net.ListenConfig{KeepAlive: keepAlivePeriod(c.KeepAlive)}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, &ncerr.ConnectError{Op: "listen", Addr: addr, Err: err}
	}
	o.logger.Verbose("listening on %s (tcp)", ln.Addr())

	return secure(ln, c, o)
}

// Secure applies c's TLS settings to a listener obtained elsewhere, such
// as one bound on an SSH gateway.  Without c.TLS it returns ln as is.
func Secure(ln net.Listener, c config.Connection, opts ...Option) (net.Listener, error) {
	return secure(ln, c, collect(opts))
}

func secure(ln net.Listener, c config.Connection, o *options) (net.Listener, error) {
	if !c.TLS {
		return ln, nil
	}
	tlsCfg, err := ServerTLSConfig(c, o.logger)
	if err != nil {
		ln.Close() //nolint:errcheck
		return nil, &ncerr.ConnectError{Op: "listen", Addr: ln.Addr().String(), Err: err}
	}
	return tls.NewListener(ln, tlsCfg), nil
}
