package core

import (
	"fmt"

	"gocat/config"
	"gocat/internal/capability"
	"gocat/internal/proxy"
	"gocat/internal/transport"
	"gocat/tunnel"
)

// Build constructs the appropriate Mode from a validated configuration.
// This is the single dispatch point between the CLI and the modes.
func Build(cfg *config.Config, deps Deps) (Mode, error) {
	deps.logger()

	switch cfg.Mode {
	case config.ModeServer:
		return buildListen(cfg, deps, &capability.Chat{
			AckTimeout: cfg.AckTimeout,
			OutputDir:  cfg.OutputDir,
		}), nil

	case config.ModeClient:
		return buildConnect(cfg, deps, &capability.Chat{
			AckTimeout: cfg.AckTimeout,
			OutputDir:  cfg.OutputDir,
		}), nil

	case config.ModeReverseServer:
		m := buildListen(cfg, deps, &capability.ShellIssuer{Prompt: deps.Interactive})
		m.Single = true
		return m, nil

	case config.ModeReverseClient:
		return buildConnect(cfg, deps, &capability.ShellExecutor{PTY: cfg.PTY}), nil

	case config.ModeFileServer:
		return buildListen(cfg, deps, &capability.FileServer{
			OutputDir:  cfg.OutputDir,
			Download:   cfg.Download,
			AckTimeout: cfg.AckTimeout,
		}), nil

	case config.ModeFileClient:
		return buildConnect(cfg, deps, &capability.FileClient{
			Uploads:        cfg.Uploads,
			ExpectDownload: cfg.Download != "",
			OutputDir:      cfg.OutputDir,
			AckTimeout:     cfg.AckTimeout,
		}), nil

	case config.ModeProxy:
		f := proxy.New(cfg, deps.Logger, deps.Metrics)
		f.Dialer = buildDialer(cfg, deps)
		return &ProxyMode{Forwarder: f}, nil

	case config.ModeScan:
		return buildScan(cfg, deps)

	case config.ModePlugins:
		return &PluginsMode{Registry: deps.Plugins, Out: deps.stdout()}, nil
	}
	return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, deps Deps, c capability.Capability) *ConnectMode {
	return &ConnectMode{
		Kind:       cfg.Mode,
		Conn:       cfg.Conn,
		Dialer:     buildDialer(cfg, deps),
		Capability: c,
		Deps:       deps,
	}
}

func buildListen(cfg *config.Config, deps Deps, c capability.Capability) *ListenMode {
	m := &ListenMode{
		Kind:       cfg.Mode,
		Conn:       cfg.Conn,
		Limiter:    transport.AcceptLimiter(cfg.AcceptRate),
		Capability: c,
		Deps:       deps,
	}
	if sshCfg := tunnel.FromConfig(cfg); sshCfg != nil {
		m.Tunnel = tunnel.NewSSHTunnel(sshCfg, deps.Logger)
	}
	return m
}

func buildScan(cfg *config.Config, deps Deps) (Mode, error) {
	hosts, err := config.ExpandHosts(cfg.Conn.Host)
	if err != nil {
		return nil, err
	}
	return &ScanMode{
		Dialer:  buildDialer(cfg, deps),
		Hosts:   hosts,
		Ports:   cfg.AllPorts(),
		Timeout: cfg.ScanTimeout,
		Verbose: cfg.Verbose,
		Deps:    deps,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer returns an SSH dialer when a tunnel is configured and nil
// (plain TCP per connection settings) otherwise.
func buildDialer(cfg *config.Config, deps Deps) transport.Dialer {
	if sshCfg := tunnel.FromConfig(cfg); sshCfg != nil {
		return transport.NewSSHDialer(sshCfg, deps.Logger)
	}
	return nil
}
