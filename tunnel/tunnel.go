// Package tunnel provides an SSH jump host backed by
// golang.org/x/crypto/ssh.  Client modes and the proxy's remote leg dial
// through it to reach targets only visible from a gateway; listening
// modes bind on the gateway and receive connections forwarded back.
package tunnel

import (
	"context"
	"net"

	"gocat/config"
)

// Tunnel abstracts an encrypted channel through which TCP connections
// can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Listen binds bindAddr:port on the far side of the tunnel and
	// yields the connections it receives there.
	Listen(bindAddr string, port int) (net.Listener, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}

var _ Tunnel = (*SSHTunnel)(nil)

// FromConfig extracts the SSH gateway settings of cfg.  It returns nil
// when no tunnel is configured.
func FromConfig(cfg *config.Config) *SSHConfig {
	if !cfg.TunnelEnabled {
		return nil
	}
	return &SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.Conn.Timeout,
	}
}
