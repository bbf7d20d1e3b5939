package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"gocat/tunnel"
	"gocat/util"
)

// SSHDialer routes connections through an SSH tunnel.  The tunnel is
// connected lazily on the first Dial call, reconnected when it has
// dropped, and torn down on Close.
type SSHDialer struct {
	tunnel *tunnel.SSHTunnel
	config *tunnel.SSHConfig
	logger *util.Logger
	mu     sync.Mutex
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.NopLogger()
	}
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

// connect establishes the SSH tunnel if it is not up.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}

	d.logger.Verbose("establishing SSH tunnel to %s@%s", d.config.User, d.config.Addr())
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	d.logger.Verbose("SSH tunnel established")
	return nil
}

// Dial connects to address through the SSH tunnel.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}
