package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocat/config"
	ncerr "gocat/internal/errors"
	"gocat/internal/session"
	"gocat/internal/wire"
	"gocat/util"
)

// ── Receiving ────────────────────────────────────────────────────────

// inbound is the reader task shared by chat and file transfer.  It
// displays messages, acknowledges them, stores incoming files and hands
// acknowledgments for our own requests to the driver.
type inbound struct {
	sess      *session.Session
	outputDir string
	acks      chan<- wire.Kind
	received  chan<- string // path of each stored file; may be nil
}

func (in *inbound) run(ctx context.Context) error {
	r := wire.NewReader(in.sess.Reader())
	for {
		f, err := r.Next()
		if err != nil {
			return err
		}

		switch f.Kind {
		case wire.Msg:
			in.show(f.Text)
			if err := in.sess.Send(wire.EncodeDelivered()); err != nil {
				return err
			}
		case wire.Line:
			if f.Text != "" {
				in.show(f.Text)
			}
		case wire.Delivered, wire.FileReceived:
			select {
			case in.acks <- f.Kind:
			default:
				in.sess.Logger.Debug("unsolicited %s from %s", f.Kind, in.sess.Peer())
			}
		case wire.File:
			if err := in.file(r, f); err != nil {
				return err
			}
		}
	}
}

// show displays text from the peer, invalid UTF-8 replaced, and
// records it in the session transcript.
func (in *inbound) show(text string) {
	text = strings.ToValidUTF8(text, replacementChar)
	in.sess.Printf("%s\n", peerColor.Sprintf("[%s] %s", in.sess.Peer(), text))
	in.sess.Logger.Transcript("RECV: [%s] %s", in.sess.Peer(), text)
}

// file stores one transfer.  Only errors that leave the stream unusable
// are returned; a rejected file is drained and the session continues.
func (in *inbound) file(r *wire.Reader, f wire.Frame) error {
	path, err := receiveFile(in.sess, r, f, in.outputDir)
	if err != nil {
		var mismatch *ncerr.TransferSizeMismatch
		if errors.As(err, &mismatch) {
			in.sess.Logger.Error("%v", mismatch)
			in.sess.Metrics.RecordError("transfer", mismatch.Error())
			return mismatch
		}
		in.sess.Logger.Error("receive %q: %v", f.Name, err)
		in.sess.Metrics.RecordError("transfer", err.Error())
		return nil
	}

	in.sess.Metrics.FileTransferred("received")
	if err := in.sess.Send(wire.EncodeFileReceived()); err != nil {
		return err
	}
	if in.received != nil {
		select {
		case in.received <- path:
		default:
		}
	}
	return nil
}

// receiveFile writes the payload announced by f to
// dir/received_<name>.  A partial file is removed.
func receiveFile(sess *session.Session, r *wire.Reader, f wire.Frame, dir string) (string, error) {
	name, err := wire.SanitizeName(f.Name)
	if err != nil {
		return "", drain(r, f, err)
	}
	if dir == "" {
		dir = config.DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", drain(r, f, err)
	}

	path := filepath.Join(dir, "received_"+name)
	out, err := os.Create(path)
	if err != nil {
		return "", drain(r, f, err)
	}

	sess.Logger.Info("receiving %q (%d bytes) from %s", name, f.Size, sess.Peer())
	start := time.Now()
	n, err := r.Payload(out, f, progress(sess.Logger, "received", name, f.Size))
	cerr := out.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return "", err
	}

	sess.Logger.Info("saved %s (%d bytes in %s)", path, n, time.Since(start).Round(time.Millisecond))
	return path, nil
}

// drain discards the payload of a file we refused so the stream stays
// in step, then reports cause unless the stream itself failed.
func drain(r *wire.Reader, f wire.Frame, cause error) error {
	if _, err := r.Payload(io.Discard, f, nil); err != nil {
		return err
	}
	return cause
}

// ── Sending ──────────────────────────────────────────────────────────

// sendFile writes the header and the whole file in DefaultChunkSize
// chunks while holding the session's write lock.  local reports that
// the file could not be opened and nothing was written; any other error
// leaves the stream unusable.
func sendFile(sess *session.Session, path string) (local bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return true, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return true, err
	}
	if !info.Mode().IsRegular() {
		return true, fmt.Errorf("%s: not a regular file", path)
	}

	name := filepath.Base(path)
	size := info.Size()
	sess.Logger.Info("sending %q (%d bytes) to %s", name, size, sess.Peer())

	err = sess.SendStream(func(w io.Writer) error {
		if _, err := w.Write(wire.EncodeFileHeader(name, size)); err != nil {
			return err
		}
		pw := &progressWriter{w: w, fn: progress(sess.Logger, "sent", name, size)}
		buf := make([]byte, config.DefaultChunkSize)
		n, err := io.CopyBuffer(pw, io.LimitReader(f, size), buf)
		if err != nil {
			return err
		}
		if n < size {
			return &ncerr.TransferSizeMismatch{Name: name, Want: size, Got: n}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	sess.Metrics.FileTransferred("sent")
	return false, nil
}

type progressWriter struct {
	w    io.Writer
	done int64
	fn   func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.fn(p.done)
	return n, err
}

// progress returns a callback that logs every tenth of the transfer.
func progress(logger *util.Logger, verb, name string, total int64) func(int64) {
	last := -1
	return func(done int64) {
		pct := 100
		if total > 0 {
			pct = int(done * 100 / total)
		}
		if step := pct / 10; step > last {
			last = step
			logger.Verbose("%s %s: %d%% (%d/%d bytes)", verb, name, pct, done, total)
		}
	}
}

// ── Modes ────────────────────────────────────────────────────────────

// FileServer serves one file-transfer client: it stores uploads and,
// when Download is set, pushes that file to the client first.
type FileServer struct {
	OutputDir  string
	Download   string
	AckTimeout time.Duration
}

// Handle runs the receive loop and the optional push.
func (s *FileServer) Handle(ctx context.Context, sess *session.Session) error {
	acks := make(chan wire.Kind, 8)
	in := &inbound{sess: sess, outputDir: s.OutputDir, acks: acks}

	var driver session.Task
	if s.Download != "" {
		driver = func(ctx context.Context) error {
			if local, err := sendFile(sess, s.Download); err != nil {
				if !local {
					return err
				}
				sess.Logger.Error("download %s: %v", s.Download, err)
			} else {
				awaitAck(ctx, sess, acks, wire.FileReceived, s.AckTimeout)
			}
			<-ctx.Done()
			return nil
		}
	}
	return sess.Run(ctx, in.run, driver)
}

// FileClient uploads files in order, waiting for each acknowledgment,
// and optionally waits for one file pushed by the server.
type FileClient struct {
	Uploads        []string
	ExpectDownload bool
	OutputDir      string
	AckTimeout     time.Duration
}

// Handle ends the session once every transfer has completed.
func (c *FileClient) Handle(ctx context.Context, sess *session.Session) error {
	acks := make(chan wire.Kind, 8)
	received := make(chan string, 1)
	in := &inbound{sess: sess, outputDir: c.OutputDir, acks: acks, received: received}

	driver := func(ctx context.Context) error {
		for _, path := range c.Uploads {
			if local, err := sendFile(sess, path); err != nil {
				if !local {
					return err
				}
				sess.Logger.Error("upload %s: %v", path, err)
				sess.Metrics.RecordError("transfer", err.Error())
				continue
			}
			awaitAck(ctx, sess, acks, wire.FileReceived, c.AckTimeout)
		}
		if c.ExpectDownload {
			select {
			case path := <-received:
				sess.Logger.Info("download stored at %s", path)
			case <-ctx.Done():
			}
		}
		return nil
	}
	return sess.Run(ctx, in.run, driver)
}
