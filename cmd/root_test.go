package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gocat/config"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := execute(ctx, args, streams{in: strings.NewReader(stdin), out: &out, err: &errOut})
	return out.String(), err
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out, err := run(t, "", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "gocat "+version+"\n" {
		t.Errorf("output = %q", out)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}, {"server", "--help"}} {
		t.Run(strings.Join(append([]string{"args"}, args...), "_"), func(t *testing.T) {
			if _, err := run(t, "", args...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	out, err := run(t, "", "proxy", "127.0.0.1", "8080", "db", "5432", "--dry-run", "--tunnel", "ops@gw:2222")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"mode:    proxy", "address: 127.0.0.1:8080", "remote:  db:5432", "tunnel:  ops@gw:2222"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestExecute_Errors covers malformed command lines.
func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"unknown command", []string{"listen"}, true},
		{"client without host", []string{"client", "--dry-run"}, true},
		{"proxy arity", []string{"proxy", "a", "1", "b"}, true},
		{"scan without ports", []string{"scan", "10.0.0.1"}, true},
		{"unknown flag", []string{"client", "h", "1", "--nonexistent-flag"}, false},
		{"bad port", []string{"client", "h", "70000", "--dry-run"}, false},
		{"port range as port", []string{"client", "h", "80-90", "--dry-run"}, false},
		{"bad tunnel", []string{"client", "h", "1", "--tunnel", "gw:99999", "--dry-run"}, false},
		{"upload outside file-client", []string{"client", "h", "1", "--upload", "x", "--dry-run"}, false},
		{"tls-key without cert", []string{"server", "9000", "--tls", "--tls-key", "k.pem", "--dry-run"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if IsUsage(err) != tt.usage {
				t.Errorf("IsUsage(%v) = %v, want %v", err, IsUsage(err), tt.usage)
			}
		})
	}
}

// TestParseConfig_Precedence checks flags > env > file > defaults.
func TestParseConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gocat.yaml")
	yaml := "timeout: 4s\nretries: 7\nretry_delay: 250ms\noutput_dir: from-file\nverbose: 2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOCAT_RETRIES", "5")
	t.Setenv("GOCAT_OUTPUT_DIR", "from-env")

	cfg, _, err := parseConfig(config.ModeClient,
		[]string{"example.com", "9000", "--config", path, "--output-dir", "from-flag", "-v"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Conn.Timeout != 4*time.Second || cfg.Conn.RetryDelay != 250*time.Millisecond {
		t.Errorf("file layer: timeout=%v delay=%v", cfg.Conn.Timeout, cfg.Conn.RetryDelay)
	}
	if cfg.Conn.MaxRetries != 5 {
		t.Errorf("retries = %d, want env value 5", cfg.Conn.MaxRetries)
	}
	if cfg.OutputDir != "from-flag" {
		t.Errorf("output dir = %q, want flag value", cfg.OutputDir)
	}
	if cfg.Verbose != 3 {
		t.Errorf("verbose = %d, want file level 2 plus one -v", cfg.Verbose)
	}
	if cfg.AckTimeout != config.DefaultAckTimeout {
		t.Errorf("ack timeout = %v, want default", cfg.AckTimeout)
	}
}

func TestParseConfig_ListenPortOnly(t *testing.T) {
	cfg, _, err := parseConfig(config.ModeFileServer, []string{"9001"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Conn.Host != "" || cfg.Conn.Port != 9001 {
		t.Errorf("conn = %+v", cfg.Conn)
	}
}

func TestExecute_Plugins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "", "plugins", "--plugin-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo\nhello\nscan\nsys_info\n" {
		t.Errorf("output = %q", out)
	}
}

func TestExecute_Scan(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	out, err := run(t, "", "scan", "127.0.0.1", port, "--scan-timeout", "1s")
	if err != nil {
		t.Fatal(err)
	}
	if out != fmt.Sprintf("127.0.0.1 %s/tcp open\n", port) {
		t.Errorf("output = %q", out)
	}
}

// TestExecute_Client sends one stdin line as a chat message and exits
// at end of input.
func TestExecute_Client(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		buf := make([]byte, len("MSG:hi there\n"))
		io.ReadFull(c, buf) //nolint:errcheck
		got <- string(buf)
		c.Write([]byte("DELIVERED")) //nolint:errcheck
		io.Copy(io.Discard, c)       //nolint:errcheck
	}()

	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	if _, err := run(t, "hi there\n", "client", "127.0.0.1", port, "--retries", "0", "--plugin-dir", t.TempDir()); err != nil {
		t.Fatalf("client = %v", err)
	}
	if msg := <-got; msg != "MSG:hi there\n" {
		t.Errorf("server read %q", msg)
	}
}
