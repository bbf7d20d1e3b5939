// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"gocat/config"
	"gocat/internal/core"
	"gocat/internal/metrics"
	"gocat/internal/plugin"
	"gocat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gocat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// streams are the process I/O endpoints; tests substitute buffers.
type streams struct {
	in       io.Reader
	out, err io.Writer
}

// Execute parses args and runs the selected gocat mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
}

func execute(ctx context.Context, args []string, std streams) error {
	if len(args) == 0 {
		printUsage(std.err, nil)
		return nil
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(std.err, nil)
		return nil
	case "--version", "version":
		fmt.Fprintf(std.out, "gocat %s\n", version)
		return nil
	}

	mode := config.Mode(args[0])
	if !knownMode(mode) {
		return &usageError{fmt.Sprintf("unknown command %q", args[0])}
	}

	cfg, opts, err := parseConfig(mode, args[1:], std.err)
	if err != nil || opts.help {
		return err
	}
	if opts.dryRun {
		describe(std.out, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(std.err)
	if cfg.LogPath != "" {
		if err := logger.AddFile(cfg.LogPath); err != nil {
			return fmt.Errorf("session log: %w", err)
		}
	}
	defer logger.Close() //nolint:errcheck

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		logger.Verbose("metrics on http://%s/metrics", cfg.MetricsAddr)
	}

	registry, skipped := plugin.Load(cfg.PluginDir, plugin.Builtins()...)
	for _, s := range skipped {
		logger.Warn("plugin %v", s)
	}
	for _, name := range registry.Names() {
		if p, _ := registry.Find(name); p != nil {
			if x, ok := p.(*plugin.Executable); ok {
				logger.Debug("plugin %s -> %s", name, x.Path())
			}
		}
	}
	logger.Debug("%d plugin(s) loaded", registry.Len())

	deps := core.Deps{
		Logger:  logger,
		Metrics: collector,
		Plugins: registry,
		Stdout:  std.out,
	}
	if readsInput(mode) {
		in := std.in
		if f, ok := in.(*os.File); ok && f == os.Stdin {
			stdio := util.NewStdio()
			defer stdio.Close() //nolint:errcheck
			in = stdio
			deps.Interactive = util.IsTerminal(os.Stdin)
		}
		feed := util.NewLineFeed(in)
		defer feed.Close() //nolint:errcheck
		deps.Input = feed
	}

	m, err := core.Build(cfg, deps)
	if err != nil {
		return err
	}
	err = m.Run(ctx)
	logger.Verbose("metrics: %s", collector.JSON())
	return err
}

// ── configuration ────────────────────────────────────────────────────

// parseConfig layers defaults, the --config file, GOCAT_* variables and
// flags (highest wins), then applies positional arguments and validates
// the result.  With --help it prints usage and skips validation.
func parseConfig(mode config.Mode, args []string, w io.Writer) (*config.Config, *cliOptions, error) {
	cfg := config.Default()
	cfg.Mode = mode
	if path := prescanConfig(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, nil, err
		}
	}
	config.LoadFromEnv(cfg)

	baseVerbose := cfg.Verbose
	fs, opts := newFlagSet(mode, cfg, w)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	// -v counts up from the file/env level instead of replacing it.
	cfg.Verbose += baseVerbose

	if opts.help {
		printUsage(w, fs)
		return cfg, opts, nil
	}
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, nil, err
	}
	if err := applyTunnelSpec(cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

// ── flags ────────────────────────────────────────────────────────────

type cliOptions struct {
	configPath string
	dryRun     bool
	help       bool
}

// newFlagSet binds every flag onto cfg.  Each flag's default is the
// value cfg already holds, so only flags given on the command line
// override the file and environment layers.
func newFlagSet(mode config.Mode, cfg *config.Config, w io.Writer) (*flag.FlagSet, *cliOptions) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("gocat "+string(mode), flag.ContinueOnError)
	fs.SetOutput(w)
	fs.Usage = func() { printUsage(w, fs) }

	// ── connection ───────────────────────────────────────────────
	fs.DurationVarP(&cfg.Conn.Timeout, "timeout", "w", cfg.Conn.Timeout, "Dial and TLS handshake timeout")
	fs.IntVar(&cfg.Conn.MaxRetries, "retries", cfg.Conn.MaxRetries, "Retries after a failed dial")
	fs.DurationVar(&cfg.Conn.RetryDelay, "retry-delay", cfg.Conn.RetryDelay, "Pause between dial attempts")
	fs.BoolVarP(&cfg.Conn.KeepAlive, "keepalive", "k", cfg.Conn.KeepAlive, "Enable TCP keepalive")

	// ── TLS ──────────────────────────────────────────────────────
	fs.BoolVar(&cfg.Conn.TLS, "tls", cfg.Conn.TLS, "Wrap the connection in TLS")
	fs.StringVar(&cfg.Conn.TLSCert, "tls-cert", cfg.Conn.TLSCert, "Server certificate (PEM)")
	fs.StringVar(&cfg.Conn.TLSKey, "tls-key", cfg.Conn.TLSKey, "Server private key (PEM)")
	fs.StringVar(&cfg.Conn.TLSCA, "tls-ca", cfg.Conn.TLSCA, "CA certificate to trust (PEM)")
	fs.StringVar(&cfg.Conn.TLSServerName, "tls-server-name", cfg.Conn.TLSServerName, "Name to verify the server certificate against")
	fs.BoolVar(&cfg.Conn.TLSInsecure, "tls-insecure", cfg.Conn.TLSInsecure, "Skip server certificate verification")

	// ── sessions ─────────────────────────────────────────────────
	fs.StringVar(&cfg.PluginDir, "plugin-dir", cfg.PluginDir, "Directory of executable plugins")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for received files")
	fs.StringArrayVar(&cfg.Uploads, "upload", cfg.Uploads, "File to upload (repeatable, file-client)")
	fs.StringVar(&cfg.Download, "download", cfg.Download, "File to push (file-server) or expect (file-client)")
	fs.DurationVar(&cfg.AckTimeout, "ack-timeout", cfg.AckTimeout, "How long to wait for DELIVERED/FILE_RECEIVED")
	fs.BoolVar(&cfg.PTY, "pty", cfg.PTY, "Run commands on a pseudo terminal (reverse-client)")
	fs.Float64Var(&cfg.AcceptRate, "accept-rate", cfg.AcceptRate, "Max accepted connections per second (0 = unlimited)")
	fs.DurationVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "Per-port scan timeout")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH gateway as [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "Append session events to this file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")

	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show this help")
	return fs, opts
}

// prescanConfig finds --config before the flag set exists, so the file
// layer can be applied underneath the flags.
func prescanConfig(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// ── positional arguments ─────────────────────────────────────────────

func parsePositional(cfg *config.Config, rest []string) error {
	switch cfg.Mode {
	case config.ModePlugins:
		if len(rest) > 0 {
			return &usageError{"plugins takes no arguments"}
		}
		return nil

	case config.ModeScan:
		if len(rest) < 2 {
			return &usageError{"usage: gocat scan HOST PORTS..."}
		}
		cfg.Conn.Host = rest[0]
		for _, arg := range rest[1:] {
			ranges, err := config.ParsePortList(arg)
			if err != nil {
				return fmt.Errorf("port %q: %w", arg, err)
			}
			cfg.ScanPorts = append(cfg.ScanPorts, ranges...)
		}
		return nil

	case config.ModeProxy:
		if len(rest) != 4 {
			return &usageError{"usage: gocat proxy HOST PORT REMOTE_HOST REMOTE_PORT"}
		}
		port, err := parsePort(rest[1])
		if err != nil {
			return err
		}
		remotePort, err := parsePort(rest[3])
		if err != nil {
			return err
		}
		cfg.Conn.Host, cfg.Conn.Port = rest[0], port
		cfg.RemoteHost, cfg.RemotePort = rest[2], remotePort
		return nil
	}

	// Listening modes accept a bare PORT and bind every interface.
	if cfg.Mode.Listens() && len(rest) == 1 {
		port, err := parsePort(rest[0])
		if err != nil {
			return err
		}
		cfg.Conn.Port = port
		return nil
	}
	if len(rest) != 2 {
		return &usageError{fmt.Sprintf("usage: gocat %s HOST PORT", cfg.Mode)}
	}
	port, err := parsePort(rest[1])
	if err != nil {
		return err
	}
	cfg.Conn.Host, cfg.Conn.Port = rest[0], port
	return nil
}

func parsePort(s string) (int, error) {
	pr, err := config.ParsePortSpec(s)
	if err != nil {
		return 0, fmt.Errorf("port: %w", err)
	}
	if pr.Start != pr.End {
		return 0, fmt.Errorf("port: expected a single port, got %q", s)
	}
	return pr.Start, nil
}

// applyTunnelSpec resolves --tunnel (from any layer) into its parts.
func applyTunnelSpec(cfg *config.Config) error {
	if cfg.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	cfg.TunnelEnabled = true
	cfg.TunnelUser = user
	cfg.TunnelHost = host
	cfg.TunnelPort = port
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func knownMode(m config.Mode) bool {
	switch m {
	case config.ModeServer, config.ModeClient, config.ModeReverseServer, config.ModeReverseClient,
		config.ModeFileServer, config.ModeFileClient, config.ModeProxy, config.ModeScan, config.ModePlugins:
		return true
	}
	return false
}

// readsInput reports whether the mode has a local line-driven driver.
func readsInput(m config.Mode) bool {
	switch m {
	case config.ModeServer, config.ModeClient, config.ModeReverseServer:
		return true
	}
	return false
}

func describe(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "mode:    %s\n", cfg.Mode)
	if cfg.Mode != config.ModePlugins {
		fmt.Fprintf(w, "address: %s\n", cfg.Conn.Addr())
	}
	if cfg.Mode == config.ModeProxy {
		fmt.Fprintf(w, "remote:  %s\n", cfg.Remote().Addr())
	}
	if cfg.Mode == config.ModeScan {
		fmt.Fprintf(w, "ports:   %d\n", len(cfg.AllPorts()))
	}
	fmt.Fprintf(w, "tls:     %v\n", cfg.Conn.TLS)
	fmt.Fprintf(w, "retries: %d (every %s)\n", cfg.Conn.MaxRetries, cfg.Conn.RetryDelay)
	if cfg.TunnelEnabled {
		fmt.Fprintf(w, "tunnel:  %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
}

// usageError marks errors caused by malformed command lines.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg + " (use --help for usage)" }

// IsUsage reports whether err came from a malformed command line.
func IsUsage(err error) bool {
	_, ok := err.(*usageError)
	return ok
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `gocat – network session tool v%s

Chat, reverse shell, file transfer, proxying and port scanning over
TCP with optional TLS and SSH gateways.

Usage:
  gocat server [HOST] PORT                    Chat server (many clients)
  gocat client HOST PORT                      Chat client
  gocat reverse-server [HOST] PORT            Issue commands to one reverse client
  gocat reverse-client HOST PORT              Execute commands sent by the server
  gocat file-server [HOST] PORT               Receive (and optionally push) files
  gocat file-client HOST PORT --upload FILE   Send files
  gocat proxy HOST PORT REMOTE_HOST REMOTE_PORT
  gocat scan HOST PORTS...                    TCP connect scan
  gocat plugins                               List available plugins
`, version)
	if fs != nil {
		fmt.Fprintf(w, "\nOptions:\n")
		fs.PrintDefaults()
	} else {
		fmt.Fprintf(w, "\nRun 'gocat <command> --help' for options.\n")
	}
	fmt.Fprintf(w, `
Examples:
  gocat server 9000 --tls                     TLS chat server, ephemeral cert
  gocat client 10.0.0.5 9000 --tls --tls-ca cert.pem
  gocat file-client host 9001 --upload a.bin --upload b.bin
  gocat proxy 0.0.0.0 8080 db-internal 5432 -T admin@bastion
  gocat scan 10.0.0.1-20 22,80 8000-8010
`)
}
