package core

import (
	"context"

	"gocat/config"
	"gocat/internal/capability"
	"gocat/internal/transport"
)

// ConnectMode dials a remote address and runs a capability on the
// resulting connection: client, reverse-client and file-client.
type ConnectMode struct {
	Kind       config.Mode
	Conn       config.Connection
	Dialer     transport.Dialer // nil means plain TCP
	Capability capability.Capability
	Deps
}

// Run dials with the connection's retry policy, creates a session, and
// hands it to the capability.  The dialer is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	opts := []transport.Option{
		transport.WithLogger(m.logger()),
		transport.WithMetrics(m.Metrics),
	}
	if m.Dialer != nil {
		defer m.Dialer.Close()
		opts = append(opts, transport.WithDialer(m.Dialer))
	}

	m.logger().Verbose("connecting to %s (%s)", m.Conn.Addr(), m.Kind)
	conn, err := transport.Connect(ctx, m.Conn, opts...)
	if err != nil {
		m.Metrics.RecordError("connect", err.Error())
		return err
	}

	sess := m.newSession(conn, m.Kind)
	m.logger().Info("connected to %s (session %s)", sess.Peer(), sess.ID)
	return m.Capability.Handle(ctx, sess)
}
