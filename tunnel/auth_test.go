package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// writeKey generates an unencrypted ed25519 key in OpenSSH format and
// returns its public half.
func writeKey(t *testing.T, path string) ssh.PublicKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "gocat-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sp, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func TestBuildAuthMethods(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "id_gateway")
	writeKey(t, key)
	garbage := filepath.Join(dir, "garbage")
	os.WriteFile(garbage, []byte("not a key"), 0o600) //nolint:errcheck

	tests := []struct {
		name    string
		cfg     SSHConfig
		methods int
		errPart string
	}{
		{"explicit key", SSHConfig{KeyPath: key}, 1, ""},
		{"key and lazy password", SSHConfig{KeyPath: key, PromptPass: true, User: "ops", Host: "gw"}, 3, ""},
		{"password only", SSHConfig{PromptPass: true, User: "ops", Host: "gw"}, 2, ""},
		{"missing key file", SSHConfig{KeyPath: filepath.Join(dir, "absent")}, 0, "reading key"},
		{"unparsable key", SSHConfig{KeyPath: garbage}, 0, "parsing key"},
		{"agent without socket", SSHConfig{UseAgent: true}, 0, "SSH_AUTH_SOCK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_AUTH_SOCK", "")
			methods, err := BuildAuthMethods(&tt.cfg)
			if tt.errPart != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errPart) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.errPart)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(methods) != tt.methods {
				t.Errorf("got %d methods, want %d", len(methods), tt.methods)
			}
		})
	}
}

// TestBuildAuthMethods_Defaults falls back to the usual key files in
// ~/.ssh when nothing is configured.
func TestBuildAuthMethods_Defaults(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	empty := t.TempDir()
	t.Setenv("HOME", empty)
	if _, err := BuildAuthMethods(&SSHConfig{}); err == nil || !strings.Contains(err.Error(), "--ssh-key") {
		t.Errorf("no keys anywhere: err = %v", err)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	writeKey(t, filepath.Join(home, ".ssh", "id_ed25519"))
	writeKey(t, filepath.Join(home, ".ssh", "id_rsa"))
	methods, err := BuildAuthMethods(&SSHConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 2 {
		t.Errorf("got %d default methods, want 2", len(methods))
	}
}

func TestHostKeyCallback(t *testing.T) {
	dir := t.TempDir()
	hostKey := writeKey(t, filepath.Join(dir, "host_key"))
	other := writeKey(t, filepath.Join(dir, "other_key"))

	khPath := filepath.Join(dir, "known_hosts")
	line := "[gw.example]:2222 " + string(ssh.MarshalAuthorizedKey(hostKey))
	if err := os.WriteFile(khPath, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}
	remote := &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 2222}

	t.Run("insecure accepts anything", func(t *testing.T) {
		cb, err := hostKeyCallback(&SSHConfig{})
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("gw.example:2222", remote, other); err != nil {
			t.Errorf("insecure callback rejected key: %v", err)
		}
	})

	t.Run("strict accepts the recorded key", func(t *testing.T) {
		cb, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: khPath})
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("gw.example:2222", remote, hostKey); err != nil {
			t.Errorf("known key rejected: %v", err)
		}
		if err := cb("gw.example:2222", remote, other); err == nil {
			t.Error("changed host key was accepted")
		}
	})

	t.Run("strict without known_hosts", func(t *testing.T) {
		_, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: filepath.Join(dir, "none")})
		if err == nil || !strings.Contains(err.Error(), "known_hosts") {
			t.Errorf("err = %v", err)
		}
	})
}
