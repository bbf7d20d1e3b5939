package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"gocat/config"
	ncerr "gocat/internal/errors"
	"gocat/internal/retry"
	"gocat/util"
)

// Connect dials c.Host:c.Port, retrying a failed attempt up to
// c.MaxRetries times with a fixed c.RetryDelay pause.  With c.TLS the
// handshake runs inside each attempt, bounded by c.Timeout, so a
// failed handshake is retried like a refused dial.  Once the budget is
// spent it returns a *errors.ConnectError carrying the attempt count
// and the last cause.
func Connect(ctx context.Context, c config.Connection, opts ...Option) (net.Conn, error) {
	o := collect(opts)
	if o.dialer == nil {
		o.dialer = &TCPDialer{Timeout: c.Timeout, KeepAlive: c.KeepAlive}
	}
	addr := c.Addr()

	var tlsCfg *tls.Config
	if c.TLS {
		var err error
		if tlsCfg, err = ClientTLSConfig(c); err != nil {
			return nil, &ncerr.ConnectError{Op: "handshake", Addr: addr, Err: err}
		}
	}

	total := c.MaxRetries + 1
	if total < 1 {
		total = 1
	}

	var (
		conn     net.Conn
		lastErr  error
		lastOp   = "dial"
		attempts int
	)

	b := retry.Fixed(c.RetryDelay, c.MaxRetries)
	b.OnRetry = func(attempt int, _ error, wait time.Duration) {
		o.metrics.ConnectRetry()
		o.logger.Verbose("retrying %s in %v", addr, wait)
	}

	err := b.Do(ctx, func(attempt int) error {
		attempts = attempt
		cn, op, err := dialOnce(ctx, o.dialer, addr, c.Timeout, tlsCfg, o.logger)
		if err == nil {
			conn = cn
			return nil
		}
		lastErr, lastOp = err, op
		o.logger.Warn("connect attempt %d/%d to %s failed: %v", attempt, total, addr, err)
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		cause := lastErr
		if ctx.Err() != nil {
			cause = ctx.Err()
		}
		return nil, &ncerr.ConnectError{Op: lastOp, Addr: addr, Attempts: attempts, Err: cause}
	}

	o.logger.Verbose("connected to %s (attempt %d/%d)", conn.RemoteAddr(), attempts, total)
	return conn, nil
}

// dialOnce makes one attempt and reports which step failed.
func dialOnce(ctx context.Context, d Dialer, addr string, timeout time.Duration, tlsCfg *tls.Config, logger *util.Logger) (net.Conn, string, error) {
	conn, err := d.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, "dial", err
	}
	if tlsCfg == nil {
		return conn, "", nil
	}

	tc := tls.Client(conn, tlsCfg)
	if err := handshake(tc, timeout, logger); err != nil {
		tc.Close() //nolint:errcheck
		return nil, "handshake", err
	}
	return tc, "", nil
}

// handshake runs the TLS handshake under a deadline and clears the
// deadline afterwards so it cannot kill the session later.
func handshake(tc *tls.Conn, timeout time.Duration, logger *util.Logger) error {
	if timeout > 0 {
		_ = tc.SetDeadline(time.Now().Add(timeout))
	}

	logger.Debug("starting TLS handshake with %s", tc.RemoteAddr())
	err := tc.Handshake()

	if timeout > 0 {
		_ = tc.SetDeadline(time.Time{})
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %w", ncerr.ErrTimeout, err)
		}
		return err
	}

	st := tc.ConnectionState()
	logger.Verbose("TLS established (%s, %s)", tls.VersionName(st.Version), tls.CipherSuiteName(st.CipherSuite))
	return nil
}
