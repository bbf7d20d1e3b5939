package core

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"gocat/config"
)

// syncBuffer is a bytes.Buffer safe for concurrent session output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func connFor(addr net.Addr) config.Connection {
	tcp := addr.(*net.TCPAddr)
	return config.Connection{
		Host:       "127.0.0.1",
		Port:       tcp.Port,
		Timeout:    2 * time.Second,
		RetryDelay: 10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func contains(b *syncBuffer, s string) func() bool {
	return func() bool { return strings.Contains(b.String(), s) }
}
