package config

import (
	"reflect"
	"testing"
	"time"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── ParsePortSpec ────────────────────────────────────────────────────

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		input     string
		wantStart int
		wantEnd   int
		wantErr   bool
	}{
		{"80", 80, 80, false},
		{"443", 443, 443, false},
		{"80-90", 80, 90, false},
		{"1-65535", 1, 65535, false},
		{"0", 0, 0, true},
		{"70000", 0, 0, true},
		{"abc", 0, 0, true},
		{"90-80", 0, 0, true}, // reversed range
		{"0-100", 0, 0, true}, // start below 1
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pr, err := ParsePortSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePortSpec(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if pr.Start != tt.wantStart || pr.End != tt.wantEnd {
				t.Errorf("got {%d, %d}, want {%d, %d}", pr.Start, pr.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

// ── PortRange.Expand ─────────────────────────────────────────────────

func TestPortRangeExpand(t *testing.T) {
	pr := PortRange{Start: 20, End: 25}
	got := pr.Expand()
	want := []int{20, 21, 22, 23, 24, 25}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

// ── ParsePortList ────────────────────────────────────────────────────

func TestParsePortList(t *testing.T) {
	got, err := ParsePortList("22, 80,8000-8002")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{22, 80, 8000, 8001, 8002}
	if ports := ExpandPorts(got); !reflect.DeepEqual(ports, want) {
		t.Errorf("got %v, want %v", ports, want)
	}

	for _, bad := range []string{"", ",", "22,x", "99999"} {
		if _, err := ParsePortList(bad); err == nil {
			t.Errorf("ParsePortList(%q) should fail", bad)
		}
	}
}

// ── ExpandHosts ──────────────────────────────────────────────────────

func TestExpandHosts(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"10.0.0.1", []string{"10.0.0.1"}, false},
		{"10.0.0.1-3", []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, false},
		{"192.168.1.5-5,example.com", []string{"192.168.1.5", "example.com"}, false},
		{"my-host.local", []string{"my-host.local"}, false},
		{"10.0.0.9-3", nil, true},
		{"10.0.0.1-300", nil, true},
		{"foo.bar-baz", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ExpandHosts(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// ── Connection helpers ───────────────────────────────────────────────

func TestConnection_AddrAndServerName(t *testing.T) {
	c := Connection{Host: "::1", Port: 4444}
	if c.Addr() != "[::1]:4444" {
		t.Errorf("Addr = %q", c.Addr())
	}
	if c.ServerName() != "::1" {
		t.Errorf("ServerName should default to host, got %q", c.ServerName())
	}
	c.TLSServerName = "chat.internal"
	if c.ServerName() != "chat.internal" {
		t.Errorf("ServerName = %q", c.ServerName())
	}
}

func TestConfig_Remote(t *testing.T) {
	cfg := Default()
	cfg.Conn.TLS = true
	cfg.Conn.MaxRetries = 7
	cfg.RemoteHost, cfg.RemotePort = "db.internal", 5432

	r := cfg.Remote()
	if r.Addr() != "db.internal:5432" {
		t.Errorf("Addr = %q", r.Addr())
	}
	if r.MaxRetries != 7 || r.RetryDelay != DefaultRetryDelay {
		t.Errorf("remote should share the retry policy: %+v", r)
	}
	if r.TLS {
		t.Error("remote leg must not use TLS")
	}
}

func TestMode_Listens(t *testing.T) {
	listening := map[Mode]bool{
		ModeServer: true, ModeReverseServer: true, ModeFileServer: true, ModeProxy: true,
		ModeClient: false, ModeReverseClient: false, ModeFileClient: false, ModeScan: false,
	}
	for m, want := range listening {
		if m.Listens() != want {
			t.Errorf("%s.Listens() = %v", m, !want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Conn.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Conn.RetryDelay)
	}
	if cfg.OutputDir != "received_files" || cfg.PluginDir != "plugins" {
		t.Errorf("dirs = %q %q", cfg.OutputDir, cfg.PluginDir)
	}
}
