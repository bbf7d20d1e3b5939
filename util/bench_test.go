package util

import (
	"context"
	"io"
	"testing"
)

// BenchmarkRelay measures throughput of the proxy relay loop.
func BenchmarkRelay(b *testing.B) {
	client, a := pipePair(b)
	bConn, remote := pipePair(b)
	defer client.Close()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Relay(ctx, a, bConn, nil) //nolint:errcheck

	payload := make([]byte, DefaultBufSize)
	sink := make([]byte, DefaultBufSize)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Write(payload); err != nil {
			b.Fatal(err)
		}
		if _, err := io.ReadFull(remote, sink); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBufPool measures the allocation advantage of sync.Pool
// buffer reuse versus fresh allocation.
func BenchmarkBufPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetBuf()
			_ = (*buf)[0]
			PutBuf(buf)
		}
	})
	b.Run("alloc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := make([]byte, DefaultBufSize)
			_ = buf[0]
		}
	})
}
