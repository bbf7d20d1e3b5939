// Package session represents a single connection lifecycle, binding a
// network connection with I/O endpoints and shared context.
//
// A session owns its connection and runs at most two tasks over it: a
// reader that consumes what the peer sends and an optional driver that
// produces what the local side sends.  Capabilities supply the tasks;
// the session supplies serialized writes, shutdown and accounting.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gocat/config"
	ncerr "gocat/internal/errors"
	"gocat/internal/metrics"
	"gocat/internal/plugin"
	"gocat/util"
)

// Task is one side of a session.  It must return once ctx is done or
// the connection is closed.
type Task func(ctx context.Context) error

// Session encapsulates the runtime context for a single connection.
type Session struct {
	ID     string
	Mode   config.Mode
	Conn   net.Conn
	Input  *util.LineFeed // local lines; nil when the mode reads none
	Stdout io.Writer
	Logger *util.Logger

	Plugins *plugin.Registry
	Metrics *metrics.Collector

	// Grace bounds how long Run waits for the second task once the
	// first one has ended.
	Grace time.Duration

	sendMu    sync.Mutex
	outMu     sync.Mutex
	closeOnce sync.Once
	started   time.Time
}

// New creates a Session bound to the given connection and I/O pair.
func New(conn net.Conn, input *util.LineFeed, stdout io.Writer, logger *util.Logger) *Session {
	if stdout == nil {
		stdout = os.Stdout
	}
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Session{
		ID:     uuid.NewString(),
		Conn:   conn,
		Input:  input,
		Stdout: stdout,
		Logger: logger,
		Grace:  config.DefaultGracePeriod,
	}
}

// Peer returns the remote address as text.
func (s *Session) Peer() string {
	if s.Conn == nil || s.Conn.RemoteAddr() == nil {
		return "peer"
	}
	return s.Conn.RemoteAddr().String()
}

// ── Output ───────────────────────────────────────────────────────────

// Send writes p to the peer in one piece.  Safe for concurrent use.
func (s *Session) Send(p []byte) error {
	return s.SendStream(func(w io.Writer) error {
		_, err := w.Write(p)
		return err
	})
}

// SendStream holds the write lock for the whole of fn, so a multi-part
// write such as a file header plus payload is never interleaved with
// acknowledgments sent by the reader task.
func (s *Session) SendStream(fn func(w io.Writer) error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return fn(&countingWriter{w: s.Conn, m: s.Metrics})
}

// Printf writes a line to the local output.  Safe for concurrent use.
func (s *Session) Printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.Stdout, format, args...) //nolint:errcheck
}

// Write copies raw peer output to the local output.
func (s *Session) Write(p []byte) (int, error) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.Stdout.Write(p)
}

// Reader returns the connection as a reader that accounts received bytes.
func (s *Session) Reader() io.Reader {
	return &countingReader{r: s.Conn, m: s.Metrics}
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Close closes the connection.  Only the first call has any effect.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Conn.Close()
		if !s.started.IsZero() {
			s.Metrics.ConnectionClosed(time.Since(s.started))
		}
		s.Logger.Debug("session %s closed", s.ID)
	})
	return err
}

// Run starts reader and, when non-nil, driver.  The session ends as soon
// as either returns or ctx is done: the connection is closed and the
// remaining task is given Grace to finish.  The ordinary end of the
// stream is not an error.
func (s *Session) Run(ctx context.Context, reader, driver Task) error {
	s.started = time.Now()
	s.Metrics.ConnectionOpened()
	s.Logger.Verbose("session %s (%s) started with %s", s.ID, s.Mode, s.Peer())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readerDone := make(chan error, 1)
	go func() { readerDone <- reader(ctx) }()

	var driverDone chan error
	if driver != nil {
		driverDone = make(chan error, 1)
		go func() { driverDone <- driver(ctx) }()
	}

	var err error
	select {
	case err = <-readerDone:
		readerDone = nil
		s.Logger.Verbose("session %s: peer side finished", s.ID)
	case err = <-driverDone:
		driverDone = nil
		s.Logger.Verbose("session %s: local side finished", s.ID)
	case <-ctx.Done():
	}

	cancel()
	s.Close() //nolint:errcheck

	grace := time.NewTimer(s.Grace)
	defer grace.Stop()
	for readerDone != nil || driverDone != nil {
		select {
		case <-readerDone:
			readerDone = nil
		case <-driverDone:
			driverDone = nil
		case <-grace.C:
			s.Logger.Warn("session %s: task did not stop within %s", s.ID, s.Grace)
			readerDone, driverDone = nil, nil
		}
	}

	if err == nil || ncerr.IsPeerClosed(err) || ncerr.Is(err, context.Canceled) {
		return nil
	}
	s.Metrics.RecordError("session", err.Error())
	return err
}

// ── Accounting ───────────────────────────────────────────────────────

type countingWriter struct {
	w io.Writer
	m *metrics.Collector
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.m.BytesSent(int64(n))
	return n, err
}

type countingReader struct {
	r io.Reader
	m *metrics.Collector
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.m.BytesReceived(int64(n))
	return n, err
}
