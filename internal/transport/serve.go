package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ncerr "gocat/internal/errors"
	"gocat/util"
)

// Handler serves one accepted connection.  It owns conn.
type Handler func(ctx context.Context, conn net.Conn)

// AcceptLimiter returns a limiter admitting perSecond new connections,
// or nil (no limit) when perSecond <= 0.
func AcceptLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Serve accepts connections from ln and runs handle for each in its own
// goroutine until ctx is done.  limiter, when non-nil, paces accepts.
// The listener is closed on return, and Serve waits for running
// handlers, which are expected to stop when ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, limiter *rate.Limiter, logger *util.Logger, handle Handler) error {
	if logger == nil {
		logger = util.NopLogger()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close() //nolint:errcheck
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	var tempDelay time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ncerr.IsRetryable(err) {
				tempDelay = backoffAccept(tempDelay)
				logger.Warn("accept: %v; retrying in %s", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}
		tempDelay = 0

		logger.Verbose("connection from %s", conn.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, conn)
		}()
	}
}

func backoffAccept(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
