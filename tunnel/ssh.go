package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"gocat/config"
	ncerr "gocat/internal/errors"
	"gocat/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive@openssh.com requests;
	// zero disables them.
	KeepAlive time.Duration

	// Auth overrides the methods built from the fields above.
	Auth []ssh.AuthMethod
	// HostKeyCallback overrides StrictHostKey/KnownHosts handling.
	HostKeyCallback ssh.HostKeyCallback
}

// Addr returns the gateway's "host:port".
func (c *SSHConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHTunnel implements [Tunnel] by opening an SSH connection and
// forwarding traffic over direct-tcpip channels.
type SSHTunnel struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
	stop   chan struct{}
}

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = config.DefaultSSHPort
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = config.DefaultConnTimeout
	}
	if logger == nil {
		logger = util.NopLogger()
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the SSH gateway and completes the handshake.  The
// handshake is bounded by ConnTimeout and by ctx.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods := t.config.Auth
	if len(authMethods) == 0 {
		var err error
		if authMethods, err = BuildAuthMethods(t.config); err != nil {
			return ncerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
		}
	}

	hkCallback := t.config.HostKeyCallback
	if hkCallback == nil {
		var err error
		if hkCallback, err = hostKeyCallback(t.config); err != nil {
			return ncerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
		}
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := t.config.Addr()
	t.logger.Debug("SSH: dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	// ssh.NewClientConn has no context; a deadline stands in for one.
	deadline := time.Now().Add(t.config.ConnTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = tcpConn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %w", ncerr.ErrAuthFailed, err)
		}
		return ncerr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}
	_ = tcpConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.monitor(client)
	if t.config.KeepAlive > 0 {
		go t.keepAlive(client, t.config.KeepAlive, stop)
	}
	return nil
}

// Dial forwards a connection through the tunnel.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	alive := t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	t.logger.Debug("tunnel: dialing %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("tunnel dial", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor blocks until the SSH connection closes and flips the alive flag.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("SSH tunnel closed: %v", err)
	} else {
		t.logger.Debug("SSH tunnel closed")
	}
}

// keepAlive sends a global request every interval; a failed request
// closes the client, which in turn trips monitor.
func (t *SSHTunnel) keepAlive(client *ssh.Client, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("SSH keepalive to %s failed: %v", t.config.Addr(), err)
				client.Close() //nolint:errcheck
				return
			}
		}
	}
}
