// Package capability defines what happens over an established
// connection.  Each Capability encapsulates the behaviour of one mode
// (chat, file transfer, either end of the reverse shell) and operates
// on a Session rather than a raw net.Conn, which keeps capabilities
// testable and decoupled from transport details.
package capability

import (
	"context"
	"time"

	"github.com/fatih/color"

	"gocat/config"
	ncerr "gocat/internal/errors"
	"gocat/internal/session"
	"gocat/internal/wire"
)

// Capability handles a single connection according to a specific
// behaviour.
type Capability interface {
	// Handle runs the capability against the given session.  It blocks
	// until the session ends or the context is cancelled.
	Handle(ctx context.Context, sess *session.Session) error
}

var (
	peerColor   = color.New(color.FgCyan)
	pluginColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
)

// awaitAck blocks until an acknowledgment of kind want arrives, ctx is
// done or timeout passes.  A timeout is logged and is not fatal.
func awaitAck(ctx context.Context, sess *session.Session, acks <-chan wire.Kind, want wire.Kind, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = config.DefaultAckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case got := <-acks:
			if got == want {
				sess.Logger.Verbose("%s from %s", want, sess.Peer())
				return true
			}
			sess.Logger.Debug("ignoring %s while waiting for %s", got, want)
		case <-timer.C:
			sess.Logger.Warn("%v: no %s from %s within %s", ncerr.ErrAckTimeout, want, sess.Peer(), timeout)
			sess.Metrics.RecordError("ack", ncerr.ErrAckTimeout.Error())
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// drainAcks discards acknowledgments left over from earlier timeouts.
func drainAcks(acks <-chan wire.Kind) {
	for {
		select {
		case <-acks:
		default:
			return
		}
	}
}
