package transport

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"gocat/util"
)

// TestServe_ConcurrentHandlers checks that one slow client does not
// hold up the next and that cancellation stops the loop.
func TestServe_ConcurrentHandlers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var served atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, nil, util.NopLogger(), func(ctx context.Context, c net.Conn) {
			defer c.Close()
			served.Add(1)
			<-ctx.Done()
		})
	}()

	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for served.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if served.Load() != 3 {
		t.Fatalf("served %d clients, want 3", served.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestAcceptLimiter(t *testing.T) {
	if AcceptLimiter(0) != nil || AcceptLimiter(-1) != nil {
		t.Error("non-positive rate should disable limiting")
	}
	l := AcceptLimiter(0.5)
	if l == nil || l.Burst() != 1 {
		t.Fatalf("limiter = %v", l)
	}
	if !l.Allow() || l.Allow() {
		t.Error("0.5/s limiter should admit exactly one immediate accept")
	}
}
