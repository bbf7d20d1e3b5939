package core

import (
	"testing"

	"gocat/config"
	"gocat/internal/capability"
	"gocat/internal/transport"
	"gocat/util"
)

func baseConfig(mode config.Mode) *config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.Conn.Host = "127.0.0.1"
	cfg.Conn.Port = 9000
	return cfg
}

// TestBuild_Modes checks the mode and capability chosen for each
// subcommand.
func TestBuild_Modes(t *testing.T) {
	tests := []struct {
		mode    config.Mode
		check   func(t *testing.T, m Mode)
		prepare func(cfg *config.Config)
	}{
		{config.ModeServer, func(t *testing.T, m Mode) {
			lm := m.(*ListenMode)
			if _, ok := lm.Capability.(*capability.Chat); !ok || lm.Single {
				t.Errorf("server = %T single=%v", lm.Capability, lm.Single)
			}
		}, nil},
		{config.ModeClient, func(t *testing.T, m Mode) {
			if _, ok := m.(*ConnectMode).Capability.(*capability.Chat); !ok {
				t.Errorf("client capability = %T", m.(*ConnectMode).Capability)
			}
		}, nil},
		{config.ModeReverseServer, func(t *testing.T, m Mode) {
			lm := m.(*ListenMode)
			if _, ok := lm.Capability.(*capability.ShellIssuer); !ok || !lm.Single {
				t.Errorf("reverse-server = %T single=%v", lm.Capability, lm.Single)
			}
		}, nil},
		{config.ModeReverseClient, func(t *testing.T, m Mode) {
			x, ok := m.(*ConnectMode).Capability.(*capability.ShellExecutor)
			if !ok || !x.PTY {
				t.Errorf("reverse-client capability = %#v", m.(*ConnectMode).Capability)
			}
		}, func(cfg *config.Config) { cfg.PTY = true }},
		{config.ModeFileServer, func(t *testing.T, m Mode) {
			fs, ok := m.(*ListenMode).Capability.(*capability.FileServer)
			if !ok || fs.Download != "out.bin" {
				t.Errorf("file-server capability = %#v", m.(*ListenMode).Capability)
			}
		}, func(cfg *config.Config) { cfg.Download = "out.bin" }},
		{config.ModeFileClient, func(t *testing.T, m Mode) {
			fc, ok := m.(*ConnectMode).Capability.(*capability.FileClient)
			if !ok || len(fc.Uploads) != 2 || fc.ExpectDownload {
				t.Errorf("file-client capability = %#v", m.(*ConnectMode).Capability)
			}
		}, func(cfg *config.Config) { cfg.Uploads = []string{"a", "b"} }},
		{config.ModeProxy, func(t *testing.T, m Mode) {
			f := m.(*ProxyMode).Forwarder
			if f.Remote.Addr() != "10.0.0.5:80" || f.Dialer != nil {
				t.Errorf("proxy remote=%s dialer=%v", f.Remote.Addr(), f.Dialer)
			}
		}, func(cfg *config.Config) { cfg.RemoteHost, cfg.RemotePort = "10.0.0.5", 80 }},
		{config.ModeScan, func(t *testing.T, m Mode) {
			sm := m.(*ScanMode)
			if len(sm.Hosts) != 3 || sm.Hosts[2] != "10.0.0.3" || len(sm.Ports) != 3 {
				t.Errorf("scan hosts=%v ports=%v", sm.Hosts, sm.Ports)
			}
		}, func(cfg *config.Config) {
			cfg.Conn.Host = "10.0.0.1-3"
			cfg.ScanPorts = []config.PortRange{{Start: 22, End: 22}, {Start: 80, End: 81}}
		}},
		{config.ModePlugins, func(t *testing.T, m Mode) {
			if _, ok := m.(*PluginsMode); !ok {
				t.Errorf("plugins = %T", m)
			}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := baseConfig(tt.mode)
			if tt.prepare != nil {
				tt.prepare(cfg)
			}
			m, err := Build(cfg, Deps{Logger: util.NopLogger()})
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, m)
		})
	}
}

// TestBuild_Tunnel checks that --tunnel routes dials through SSH and
// binds listeners on the gateway.
func TestBuild_Tunnel(t *testing.T) {
	withTunnel := func(mode config.Mode) *config.Config {
		cfg := baseConfig(mode)
		cfg.TunnelEnabled = true
		cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort = "ops", "bastion", 22
		return cfg
	}

	m, err := Build(withTunnel(config.ModeClient), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*ConnectMode).Dialer.(*transport.SSHDialer); !ok {
		t.Errorf("client dialer = %T, want *transport.SSHDialer", m.(*ConnectMode).Dialer)
	}

	m, err = Build(withTunnel(config.ModeServer), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if m.(*ListenMode).Tunnel == nil {
		t.Error("server should listen on the gateway")
	}

	m, err = Build(baseConfig(config.ModeServer), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if m.(*ListenMode).Tunnel != nil {
		t.Error("server without --tunnel should listen locally")
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(baseConfig("bogus"), Deps{}); err == nil {
		t.Error("unknown mode should fail")
	}
	cfg := baseConfig(config.ModeScan)
	cfg.Conn.Host = "10.0.0.9-1"
	if _, err := Build(cfg, Deps{}); err == nil {
		t.Error("bad host range should fail")
	}
}
