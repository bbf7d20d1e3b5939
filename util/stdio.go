package util

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/cancelreader"
)

// Stdio reads from stdin through a cancelable reader when the platform
// supports it, so a blocked Read can be interrupted with Close.
type Stdio struct {
	stdin            *os.File
	cancellableStdin cancelreader.CancelReader
}

// NewStdio wraps os.Stdin.
func NewStdio() *Stdio {
	s := &Stdio{stdin: os.Stdin}
	if cr, err := cancelreader.NewReader(os.Stdin); err == nil {
		s.cancellableStdin = cr
	}
	return s
}

// Read reads from stdin, using the cancelable reader if available.
func (s *Stdio) Read(p []byte) (int, error) {
	if s.cancellableStdin != nil {
		return s.cancellableStdin.Read(p)
	}
	return s.stdin.Read(p)
}

// Close cancels any pending read.
func (s *Stdio) Close() error {
	if s.cancellableStdin != nil {
		s.cancellableStdin.Cancel()
		return s.cancellableStdin.Close()
	}
	return nil
}

// LineFeed turns a reader into a stream of lines consumed by whichever
// caller asks next.  One goroutine owns the reader; any number of
// session drivers can wait on Next with their own context, so ending a
// session never has to interrupt the shared input.
type LineFeed struct {
	lines chan string
	done  chan struct{}
	src   io.Reader

	mu  sync.Mutex
	err error
}

// NewLineFeed starts scanning r.  Trailing "\r" is stripped from lines.
func NewLineFeed(r io.Reader) *LineFeed {
	f := &LineFeed{
		lines: make(chan string),
		done:  make(chan struct{}),
		src:   r,
	}
	go f.scan()
	return f
}

func (f *LineFeed) scan() {
	defer close(f.done)
	sc := bufio.NewScanner(f.src)
	sc.Buffer(make([]byte, 0, 4096), 1024*1024)
	for sc.Scan() {
		f.lines <- strings.TrimRight(sc.Text(), "\r")
	}
	f.mu.Lock()
	f.err = sc.Err()
	f.mu.Unlock()
}

// Next blocks until a line is available, the input ends (io.EOF) or ctx
// is done (ctx.Err()).
func (f *LineFeed) Next(ctx context.Context) (string, error) {
	select {
	case line := <-f.lines:
		return line, nil
	case <-f.done:
		f.mu.Lock()
		err := f.err
		f.mu.Unlock()
		if err == nil || err == cancelreader.ErrCanceled {
			err = io.EOF
		}
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close cancels the underlying reader when it supports cancellation.
func (f *LineFeed) Close() error {
	if c, ok := f.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
