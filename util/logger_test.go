package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufLogger(verbosity int) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(verbosity)
	l.SetOutput(&buf)
	l.SetTimestamps(false)
	return l, &buf
}

// TestLogger_Verbosity checks which tags each -v count lets through.
func TestLogger_Verbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      []string
	}{
		{0, []string{"[ERR]"}},
		{1, []string{"[ERR]", "[WRN]", "[INF]"}},
		{2, []string{"[ERR]", "[WRN]", "[INF]", "[VRB]"}},
		{3, []string{"[ERR]", "[WRN]", "[INF]", "[VRB]", "[DBG]"}},
		{7, []string{"[ERR]", "[WRN]", "[INF]", "[VRB]", "[DBG]"}},
	}
	for _, tt := range tests {
		l, buf := newBufLogger(tt.verbosity)
		l.Error("bind failed")
		l.Warn("retrying")
		l.Info("listening")
		l.Verbose("connection from peer")
		l.Debug("frame MSG")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != len(tt.want) {
			t.Errorf("-v=%d: got %d lines:\n%s", tt.verbosity, len(lines), buf)
			continue
		}
		for i, tag := range tt.want {
			if !strings.HasPrefix(lines[i], tag+" ") {
				t.Errorf("-v=%d line %d = %q, want tag %s", tt.verbosity, i, lines[i], tag)
			}
		}
	}
}

func TestLogger_FormatsArgs(t *testing.T) {
	l, buf := newBufLogger(1)
	l.Warn("attempt %d/%d to %s", 2, 4, "10.0.0.1:4444")
	if got := strings.TrimSpace(buf.String()); got != "[WRN] attempt 2/4 to 10.0.0.1:4444" {
		t.Errorf("got %q", got)
	}
}

func TestLogger_Timestamps(t *testing.T) {
	l, buf := newBufLogger(1)
	l.SetTimestamps(true)
	l.Info("listening")
	got := buf.String()
	if strings.HasPrefix(got, "[INF]") || !strings.Contains(got, "[INF] listening") {
		t.Errorf("expected a timestamp before the tag, got %q", got)
	}

	if !NewLogger(3).timestamps {
		t.Error("debug verbosity should switch timestamps on")
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Error("dropped")
	l.Info("dropped")
	if err := l.Close(); err != nil {
		t.Error(err)
	}
}

func TestLogger_AddFile(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	path := filepath.Join(t.TempDir(), "session.log")
	if err := l.AddFile(path); err != nil {
		t.Fatal(err)
	}

	l.Info("connected to %s", "10.0.0.1:4444")
	l.Debug("filtered out")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, "[INF] connected to 10.0.0.1:4444") {
		t.Errorf("log file = %q", got)
	}
	if strings.Contains(got, "filtered out") {
		t.Error("file sink should respect the level filter")
	}
	if strings.HasPrefix(got, "[") {
		t.Errorf("file lines should be timestamped, got %q", got)
	}
	if !strings.Contains(buf.String(), "[INF] connected") {
		t.Errorf("primary output = %q", buf.String())
	}
}

func TestLogger_AddFileBadPath(t *testing.T) {
	l := NewLogger(1)
	if err := l.AddFile(filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLogger_NoColorOnBuffer(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	l.Error("boom")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("non-terminal output should not be coloured: %q", buf.String())
	}
}

func TestBufPool_RoundTrip(t *testing.T) {
	buf := GetBuf()
	if buf == nil {
		t.Fatal("GetBuf returned nil")
	}
	if len(*buf) != DefaultBufSize {
		t.Errorf("buffer size = %d, want %d", len(*buf), DefaultBufSize)
	}

	// Write some data and return.
	(*buf)[0] = 0xFF
	PutBuf(buf)

	// Get another buffer; it may or may not be the same one.
	buf2 := GetBuf()
	if buf2 == nil {
		t.Fatal("second GetBuf returned nil")
	}
	PutBuf(buf2)
}

func TestPutBuf_Nil(t *testing.T) {
	// Should not panic.
	PutBuf(nil)
}

func TestChunkPool_Size(t *testing.T) {
	buf := GetChunk()
	if len(*buf) != RelayChunkSize {
		t.Errorf("chunk size = %d, want %d", len(*buf), RelayChunkSize)
	}
	PutChunk(buf)
	PutChunk(nil)
}

func TestLogger_TranscriptGoesToFilesOnly(t *testing.T) {
	l, buf := newBufLogger(0)
	l.Transcript("RECV: [%s] %s", "10.0.0.1:4444", "dropped, no file yet")

	path := filepath.Join(t.TempDir(), "session.log")
	if err := l.AddFile(path); err != nil {
		t.Fatal(err)
	}
	l.Transcript("RECV: [%s] %s", "10.0.0.1:4444", "hello")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if buf.Len() != 0 {
		t.Errorf("console got %q", buf)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, "[INF] RECV: [10.0.0.1:4444] hello\n") || strings.Contains(got, "dropped") {
		t.Errorf("log file = %q", got)
	}
}
