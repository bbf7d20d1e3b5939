package tunnel

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"gocat/config"
	ncerr "gocat/internal/errors"
)

// startGateway runs a minimal SSH server on loopback that accepts user
// "ops" with the given password and serves direct-tcpip channels.
func startGateway(t testing.TB, password string) (port int, hostKey ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, p []byte) (*ssh.Permissions, error) {
			if c.User() == "ops" && string(p) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveGateway(c, cfg)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, signer.PublicKey()
}

func serveGateway(c net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		c.Close()
		return
	}
	go serveGlobalRequests(sconn, reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.UnknownChannelType, "unsupported") //nolint:errcheck
			continue
		}
		var p struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
			nc.Reject(ssh.ConnectionFailed, "bad payload") //nolint:errcheck
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))))
		if err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			io.Copy(ch, target) //nolint:errcheck
			ch.Close()
		}()
		go func() {
			io.Copy(target, ch) //nolint:errcheck
			target.Close()
		}()
	}
}

// serveGlobalRequests answers tcpip-forward by listening on loopback and
// opening a forwarded-tcpip channel back to the client per connection.
func serveGlobalRequests(sconn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.Type != "tcpip-forward" {
			if req.WantReply {
				req.Reply(req.Type == "cancel-tcpip-forward", nil) //nolint:errcheck
			}
			continue
		}
		var msg channelForwardMsg
		if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
			req.Reply(false, nil) //nolint:errcheck
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(msg.Port))))
		if err != nil {
			req.Reply(false, nil) //nolint:errcheck
			continue
		}
		port := uint32(ln.Addr().(*net.TCPAddr).Port)
		req.Reply(true, ssh.Marshal(&forwardReply{Port: port})) //nolint:errcheck

		go func() {
			defer ln.Close()
			go func() {
				sconn.Wait() //nolint:errcheck
				ln.Close()
			}()
			for {
				c, err := ln.Accept()
				if err != nil {
					return
				}
				origin := c.RemoteAddr().(*net.TCPAddr)
				payload := ssh.Marshal(&forwardedTCPPayload{
					Addr: msg.Addr, Port: port,
					OriginAddr: origin.IP.String(), OriginPort: uint32(origin.Port),
				})
				ch, creqs, err := sconn.OpenChannel("forwarded-tcpip", payload)
				if err != nil {
					c.Close()
					continue
				}
				go ssh.DiscardRequests(creqs)
				go func() {
					io.Copy(ch, c)  //nolint:errcheck
					ch.CloseWrite() //nolint:errcheck
				}()
				go func() {
					io.Copy(c, ch) //nolint:errcheck
					c.Close()
				}()
			}
		}()
	}
}

func startEcho(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSSHTunnel_DialThroughGateway(t *testing.T) {
	port, hostKey := startGateway(t, "s3cret")
	echo := startEcho(t)

	tun := NewSSHTunnel(&SSHConfig{
		User:            "ops",
		Host:            "127.0.0.1",
		Port:            port,
		Auth:            []ssh.AuthMethod{ssh.Password("s3cret")},
		HostKeyCallback: ssh.FixedHostKey(hostKey),
		ConnTimeout:     5 * time.Second,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tun.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tun.Close()

	if !tun.IsAlive() {
		t.Fatal("tunnel should be alive after Connect")
	}

	conn, err := tun.Dial(ctx, "tcp", echo)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "ping\n" {
		t.Errorf("echo = %q, want %q", line, "ping\n")
	}
}

func TestSSHTunnel_WrongPassword(t *testing.T) {
	port, hostKey := startGateway(t, "s3cret")

	tun := NewSSHTunnel(&SSHConfig{
		User:            "ops",
		Host:            "127.0.0.1",
		Port:            port,
		Auth:            []ssh.AuthMethod{ssh.Password("guess")},
		HostKeyCallback: ssh.FixedHostKey(hostKey),
		ConnTimeout:     5 * time.Second,
	}, nil)

	err := tun.Connect(context.Background())
	var se *ncerr.SSHError
	if !errors.As(err, &se) || se.Op != "handshake" {
		t.Fatalf("err = %v, want ssh handshake error", err)
	}
	if !errors.Is(err, ncerr.ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
	if tun.IsAlive() {
		t.Error("failed tunnel should not be alive")
	}
}

func TestSSHTunnel_DialBeforeConnect(t *testing.T) {
	tun := NewSSHTunnel(&SSHConfig{Host: "127.0.0.1"}, nil)
	if _, err := tun.Dial(context.Background(), "tcp", "127.0.0.1:1"); !errors.Is(err, ncerr.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := tun.Close(); err != nil {
		t.Errorf("Close on unconnected tunnel: %v", err)
	}
}

func TestSSHTunnel_Defaults(t *testing.T) {
	cfg := &SSHConfig{Host: "gw"}
	NewSSHTunnel(cfg, nil)
	if cfg.Port != 22 || cfg.ConnTimeout != config.DefaultConnTimeout {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Addr() != "gw:22" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	if FromConfig(cfg) != nil {
		t.Error("no tunnel configured should give nil")
	}

	cfg.TunnelEnabled = true
	cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort = "ops", "bastion", 2222
	cfg.UseSSHAgent = true
	sc := FromConfig(cfg)
	if sc == nil || sc.User != "ops" || sc.Addr() != "bastion:2222" || !sc.UseAgent {
		t.Errorf("FromConfig = %+v", sc)
	}
}

func TestSSHTunnel_ListenOnGateway(t *testing.T) {
	port, hostKey := startGateway(t, "s3cret")

	tun := NewSSHTunnel(&SSHConfig{
		User:            "ops",
		Host:            "127.0.0.1",
		Port:            port,
		Auth:            []ssh.AuthMethod{ssh.Password("s3cret")},
		HostKeyCallback: ssh.FixedHostKey(hostKey),
		ConnTimeout:     5 * time.Second,
	}, nil)

	if _, err := tun.Listen("", 0); !errors.Is(err, ncerr.ErrNotConnected) {
		t.Fatalf("Listen before Connect = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tun.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tun.Close()

	ln, err := tun.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	gwPort := ln.Addr().(*net.TCPAddr).Port
	if gwPort == 0 {
		t.Fatal("gateway port not reported")
	}

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c) //nolint:errcheck
	}()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(gwPort)), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck

	if _, err := conn.Write([]byte("through the gateway\n")); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "through the gateway\n" {
		t.Errorf("echo = %q", line)
	}

	ln.Close()
	if _, err := ln.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Accept after Close = %v, want net.ErrClosed", err)
	}
}
