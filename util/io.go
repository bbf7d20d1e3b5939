package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultBufSize is the standard buffer size for bulk network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// RelayChunkSize is the read size used when relaying proxy traffic.
const RelayChunkSize = 4096

// Direction names one half of a relay.
type Direction int

const (
	AToB Direction = iota
	BToA
)

func (d Direction) String() string {
	if d == AToB {
		return "a->b"
	}
	return "b->a"
}

// RelayStats reports how many bytes crossed each direction.
type RelayStats struct {
	AToB int64
	BToA int64
}

// Relay copies bytes between a and b, one goroutine per direction, in
// chunks of at most RelayChunkSize.  When either direction hits EOF or
// an error, or ctx is cancelled, both connections are closed and Relay
// returns once both goroutines have finished.  onChunk, when non-nil,
// is called after every chunk is written.
func Relay(ctx context.Context, a, b net.Conn, onChunk func(d Direction, n int)) (RelayStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stats RelayStats
		wg    sync.WaitGroup
		once  sync.Once
	)
	errCh := make(chan error, 2)

	closeBoth := func() {
		once.Do(func() {
			a.Close() //nolint:errcheck
			b.Close() //nolint:errcheck
		})
	}

	pump := func(dst, src net.Conn, d Direction, total *int64) {
		defer wg.Done()
		n, err := copyChunks(dst, src, func(n int) {
			if onChunk != nil {
				onChunk(d, n)
			}
		})
		*total = n
		errCh <- err
		cancel()
	}

	wg.Add(2)
	go pump(b, a, AToB, &stats.AToB)
	go pump(a, b, BToA, &stats.BToA)

	<-ctx.Done()
	closeBoth()
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && !isHarmless(err) {
			return stats, err
		}
	}
	return stats, nil
}

// copyChunks moves src to dst through a pooled RelayChunkSize buffer.
func copyChunks(dst io.Writer, src io.Reader, onChunk func(int)) (int64, error) {
	buf := GetChunk()
	defer PutChunk(buf)

	var total int64
	for {
		nr, rerr := src.Read(*buf)
		if nr > 0 {
			nw, werr := dst.Write((*buf)[:nr])
			total += int64(nw)
			if werr != nil {
				return total, werr
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
			onChunk(nw)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
