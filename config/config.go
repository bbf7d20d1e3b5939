// Package config defines the runtime configuration for gocat and provides
// helpers for parsing tunnel specifications, port ranges and host ranges.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "gocat/internal/errors"
)

// Mode names an operating mode; it is also the CLI subcommand.
type Mode string

const (
	ModeServer        Mode = "server"
	ModeClient        Mode = "client"
	ModeReverseServer Mode = "reverse-server"
	ModeReverseClient Mode = "reverse-client"
	ModeFileServer    Mode = "file-server"
	ModeFileClient    Mode = "file-client"
	ModeProxy         Mode = "proxy"
	ModeScan          Mode = "scan"
	ModePlugins       Mode = "plugins"
)

// Listens reports whether the mode binds a local port rather than dialing.
func (m Mode) Listens() bool {
	switch m {
	case ModeServer, ModeReverseServer, ModeFileServer, ModeProxy:
		return true
	}
	return false
}

// Connection describes how to reach (or where to bind) one endpoint.
// It is passed by value and never mutated once built.
type Connection struct {
	Host       string
	Port       int
	Timeout    time.Duration // dial timeout; also bounds the TLS handshake
	MaxRetries int           // retries after the first failed dial
	RetryDelay time.Duration // fixed pause between attempts
	KeepAlive  bool

	TLS           bool
	TLSCert       string // server certificate (PEM)
	TLSKey        string // server key (PEM)
	TLSCA         string // client trust anchor (PEM); system pool when empty
	TLSServerName string // defaults to Host
	TLSInsecure   bool   // client: skip certificate verification
}

// Addr returns "host:port".
func (c Connection) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerName returns the name to verify the peer certificate against.
func (c Connection) ServerName() string {
	if c.TLSServerName != "" {
		return c.TLSServerName
	}
	return c.Host
}

// Config holds every tuneable for one gocat invocation.
type Config struct {
	Mode Mode
	Conn Connection

	// ── Proxy ────────────────────────────────────────────────────────
	RemoteHost string
	RemotePort int
	AcceptRate float64 // accepted connections per second; 0 = unlimited

	// ── File transfer ────────────────────────────────────────────────
	Uploads   []string
	Download  string
	OutputDir string

	// ── Sessions ─────────────────────────────────────────────────────
	PluginDir  string
	AckTimeout time.Duration
	PTY        bool

	// ── Scanning ─────────────────────────────────────────────────────
	ScanPorts   []PortRange
	ScanTimeout time.Duration

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from --tunnel
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int
	LogPath     string
	MetricsAddr string
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Conn: Connection{
			Timeout:    DefaultConnTimeout,
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
		},
		OutputDir:   DefaultOutputDir,
		PluginDir:   DefaultPluginDir,
		AckTimeout:  DefaultAckTimeout,
		ScanTimeout: DefaultScanTimeout,
		Verbose:     1,
	}
}

// Remote returns the Connection used by the proxy to reach its target.
// It shares the dial policy of the local side but never TLS: the
// forwarder relays bytes and does not terminate the remote protocol.
func (c *Config) Remote() Connection {
	return Connection{
		Host:       c.RemoteHost,
		Port:       c.RemotePort,
		Timeout:    c.Conn.Timeout,
		MaxRetries: c.Conn.MaxRetries,
		RetryDelay: c.Conn.RetryDelay,
		KeepAlive:  c.Conn.KeepAlive,
	}
}

// ── Port helpers ─────────────────────────────────────────────────────

// PortRange is an inclusive start–end pair.
type PortRange struct {
	Start int
	End   int
}

// Expand returns every port in the range.
func (pr PortRange) Expand() []int {
	out := make([]int, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		out = append(out, p)
	}
	return out
}

// AllPorts flattens every scan PortRange into a single slice.
func (c *Config) AllPorts() []int {
	return ExpandPorts(c.ScanPorts)
}

// ExpandPorts flattens ranges in order.
func ExpandPorts(ranges []PortRange) []int {
	var out []int
	for _, pr := range ranges {
		out = append(out, pr.Expand()...)
	}
	return out
}

// ParsePortSpec accepts "80" or "80-90".
func ParsePortSpec(spec string) (PortRange, error) {
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range start %q", parts[0])
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range end %q", parts[1])
		}
		if start < 1 || end > 65535 || start > end {
			return PortRange{}, fmt.Errorf("invalid port range %d-%d", start, end)
		}
		return PortRange{Start: start, End: end}, nil
	}

	port, err := strconv.Atoi(spec)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return PortRange{}, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return PortRange{Start: port, End: port}, nil
}

// ParsePortList accepts a comma-separated list of port specs, e.g.
// "22,80,8000-8010".
func ParsePortList(list string) ([]PortRange, error) {
	var out []PortRange
	for _, spec := range strings.Split(list, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		pr, err := ParsePortSpec(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ports in %q", list)
	}
	return out, nil
}

// ── Host helpers ─────────────────────────────────────────────────────

// ExpandHosts accepts a comma-separated list of hosts in which an IPv4
// address may end in a last-octet range, e.g. "10.0.0.1-3,example.com".
func ExpandHosts(list string) ([]string, error) {
	var out []string
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		dot := strings.LastIndex(item, ".")
		if dot < 0 || !strings.Contains(item[dot:], "-") {
			out = append(out, item)
			continue
		}

		prefix, rng := item[:dot], item[dot+1:]
		parts := strings.SplitN(rng, "-", 2)
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo < 0 || hi > 255 || lo > hi {
			return nil, fmt.Errorf("invalid host range %q", item)
		}
		if net.ParseIP(prefix+".0") == nil {
			return nil, fmt.Errorf("invalid host range %q: prefix is not IPv4", item)
		}
		for i := lo; i <= hi; i++ {
			out = append(out, prefix+"."+strconv.Itoa(i))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no hosts in %q", list)
	}
	return out, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePlugins:
		return nil
	case ModeScan:
		if c.Conn.Host == "" {
			return &ncerr.ConfigError{Field: "host", Message: "scan needs a target host"}
		}
		if len(c.ScanPorts) == 0 {
			return &ncerr.ConfigError{Field: "ports", Message: "scan needs at least one port",
				Hint: "e.g. gocat scan 10.0.0.5 22 80 8000-8100"}
		}
		return nil
	case ModeServer, ModeClient, ModeReverseServer, ModeReverseClient,
		ModeFileServer, ModeFileClient, ModeProxy:
	default:
		return &ncerr.ConfigError{Field: "mode", Value: c.Mode, Message: "unknown mode"}
	}

	if !c.Mode.Listens() && c.Conn.Host == "" {
		return &ncerr.ConfigError{Field: "host", Message: "hostname is required",
			Hint: "use --help for usage"}
	}
	if err := checkPort("port", c.Conn.Port); err != nil {
		return err
	}
	if c.Conn.MaxRetries < 0 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Conn.MaxRetries, Message: "must be >= 0"}
	}
	if c.Conn.Timeout < 0 || c.Conn.RetryDelay < 0 || c.AckTimeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Message: "durations must not be negative"}
	}

	if c.Conn.TLS {
		if (c.Conn.TLSCert == "") != (c.Conn.TLSKey == "") {
			return &ncerr.ConfigError{Field: "tls-cert", Message: "--tls-cert and --tls-key must be given together",
				Hint: "omit both to use an ephemeral self-signed certificate"}
		}
	} else if c.Conn.TLSCert != "" || c.Conn.TLSKey != "" || c.Conn.TLSCA != "" || c.Conn.TLSInsecure {
		return &ncerr.ConfigError{Field: "tls", Message: "TLS options given without --tls",
			Hint: "add --tls to enable TLS"}
	}

	if c.Mode == ModeProxy {
		if c.RemoteHost == "" {
			return &ncerr.ConfigError{Field: "remote-host", Message: "proxy needs a remote host"}
		}
		if err := checkPort("remote-port", c.RemotePort); err != nil {
			return err
		}
		if c.AcceptRate < 0 {
			return &ncerr.ConfigError{Field: "accept-rate", Value: c.AcceptRate, Message: "must be >= 0"}
		}
	}

	if len(c.Uploads) > 0 && c.Mode != ModeFileClient {
		return &ncerr.ConfigError{Field: "upload", Message: "only valid in file-client mode"}
	}
	if c.Download != "" && c.Mode != ModeFileClient && c.Mode != ModeFileServer {
		return &ncerr.ConfigError{Field: "download", Message: "only valid in file-server and file-client modes"}
	}
	if c.Mode == ModeFileClient && len(c.Uploads) == 0 && c.Download == "" {
		return &ncerr.ConfigError{Field: "upload", Message: "file-client needs --upload or --download"}
	}
	if c.PTY && c.Mode != ModeReverseClient {
		return &ncerr.ConfigError{Field: "pty", Message: "only valid in reverse-client mode"}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
	}
	return nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ncerr.ConfigError{Field: field, Value: port, Message: "out of range 1-65535",
			Hint: "use a port between 1 and 65535"}
	}
	return nil
}
