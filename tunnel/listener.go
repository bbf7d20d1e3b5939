package tunnel

// Listening modes started with --tunnel bind on the gateway instead of
// locally: the gateway accepts TCP connections and hands each one back
// as a forwarded-tcpip channel (RFC 4254 §7).
//
// ssh.Client.Listen matches incoming channels against the exact bind
// address it sent, and gateways that echo back a different address
// ("0.0.0.0" for "") get every channel rejected.  The listener below
// sends tcpip-forward itself and accepts every forwarded channel.

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "gocat/internal/errors"
)

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardReply carries the port the gateway chose when 0 was requested.
type forwardReply struct {
	Port uint32
}

// forwardedTCPPayload is the open payload of "forwarded-tcpip"
// (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// Listen asks the gateway to listen on bindAddr:port and returns a
// listener yielding the connections it forwards.  port 0 lets the
// gateway choose; Addr reports the result.
func (t *SSHTunnel) Listen(bindAddr string, port int) (net.Listener, error) {
	t.mu.RLock()
	client := t.client
	alive := t.alive
	t.mu.RUnlock()
	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("gateway listener already active")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(port)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, ncerr.WrapSSH("tcpip-forward", t.config.Host, t.config.Port, err)
	}
	if !ok {
		return nil, ncerr.WrapSSH("tcpip-forward", t.config.Host, t.config.Port,
			fmt.Errorf("gateway refused to listen on %s", net.JoinHostPort(bindAddr, strconv.Itoa(port))))
	}
	if port == 0 {
		var r forwardReply
		if err := ssh.Unmarshal(reply, &r); err == nil {
			msg.Port = r.Port
		}
	}

	t.logger.Verbose("listening on gateway %s port %d", t.config.Addr(), msg.Port)
	return &gatewayListener{
		client:   client,
		msg:      msg,
		gateway:  t.config.Host,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// gatewayListener implements net.Listener over forwarded-tcpip channels.
type gatewayListener struct {
	client   *ssh.Client
	msg      channelForwardMsg
	gateway  string
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

func (l *gatewayListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case nc, ok := <-l.incoming:
		if !ok {
			return nil, net.ErrClosed
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			return nil, fmt.Errorf("accept forwarded channel: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var p forwardedTCPPayload
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err == nil {
			raddr = &net.TCPAddr{IP: net.ParseIP(p.OriginAddr), Port: int(p.OriginPort)}
		}
		return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
	}
}

// Close cancels the forward on the gateway and unblocks Accept.
func (l *gatewayListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&l.msg)) //nolint:errcheck
	})
	return nil
}

func (l *gatewayListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.gateway), Port: int(l.msg.Port)}
}

// chanConn adapts an ssh.Channel to net.Conn.  Deadlines are not
// supported by SSH channels and are ignored.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(_ time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }

var _ net.Conn = (*chanConn)(nil)
