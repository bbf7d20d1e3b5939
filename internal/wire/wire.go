// Package wire encodes and decodes the tagged text protocol spoken by
// chat and file-transfer sessions.
//
//	MSG:<text>\n              chat message
//	DELIVERED                 message acknowledgment (unterminated)
//	FILE:<name>|<size>\n      file header, followed by exactly <size> bytes
//	FILE_RECEIVED             file acknowledgment (unterminated)
//
// Anything else is a raw text line.
package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	ncerr "gocat/internal/errors"
)

// Tags.
const (
	MsgTag          = "MSG:"
	FileTag         = "FILE:"
	DeliveredTag    = "DELIVERED"
	FileReceivedTag = "FILE_RECEIVED"
)

// Kind classifies a decoded frame.
type Kind int

const (
	Line Kind = iota
	Msg
	Delivered
	File
	FileReceived
)

func (k Kind) String() string {
	switch k {
	case Msg:
		return "MSG"
	case Delivered:
		return DeliveredTag
	case File:
		return "FILE"
	case FileReceived:
		return FileReceivedTag
	default:
		return "LINE"
	}
}

// Frame is one decoded protocol unit.  Text is set for Line and Msg;
// Name and Size for File.
type Frame struct {
	Kind Kind
	Text string
	Name string
	Size int64
}

// ErrInvalidName is returned for file names that reduce to nothing usable.
var ErrInvalidName = ncerr.New("invalid file name")

// ── Encoding ─────────────────────────────────────────────────────────

// EncodeMsg returns "MSG:<text>\n".  Line breaks inside text are
// folded to spaces so the message stays a single frame; callers that
// want to keep them send one message per line.
func EncodeMsg(text string) []byte {
	return []byte(MsgTag + lineBreaks.Replace(text) + "\n")
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// EncodeFileHeader returns "FILE:<name>|<size>\n".
func EncodeFileHeader(name string, size int64) []byte {
	return []byte(FileTag + name + "|" + strconv.FormatInt(size, 10) + "\n")
}

// EncodeDelivered returns the message acknowledgment.
func EncodeDelivered() []byte { return []byte(DeliveredTag) }

// EncodeFileReceived returns the file acknowledgment.
func EncodeFileReceived() []byte { return []byte(FileReceivedTag) }

// SanitizeName reduces a peer-supplied file name to its base name so a
// header can never address a path outside the output directory.
func SanitizeName(name string) (string, error) {
	if strings.ContainsAny(name, "\x00\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// ── Decoding ─────────────────────────────────────────────────────────

// Reader decodes frames from a byte stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

var (
	deliveredBytes    = []byte(DeliveredTag)
	fileReceivedBytes = []byte(FileReceivedTag)
)

// Next returns the next frame.  Acknowledgments are matched on their
// exact bytes without waiting for a newline; a newline that is already
// buffered right after one is consumed with it.  A final line without a
// newline is returned before io.EOF.
func (r *Reader) Next() (Frame, error) {
	if kind, ok, err := r.ack(); err != nil {
		return Frame{}, err
	} else if ok {
		return Frame{Kind: kind}, nil
	}

	raw, err := r.br.ReadString('\n')
	if err != nil && (err != io.EOF || raw == "") {
		return Frame{}, err
	}
	line := strings.TrimRight(raw, "\r\n")

	switch {
	case strings.HasPrefix(line, MsgTag):
		return Frame{Kind: Msg, Text: line[len(MsgTag):]}, nil
	case strings.HasPrefix(line, FileTag):
		if f, ok := parseFileHeader(line[len(FileTag):]); ok {
			return f, nil
		}
	}
	return Frame{Kind: Line, Text: line}, nil
}

// ack grows a peek window while the buffered bytes are still a prefix
// of one of the acknowledgment tags.
func (r *Reader) ack() (Kind, bool, error) {
	for n := 1; n <= len(fileReceivedBytes); n++ {
		b, err := r.br.Peek(n)
		if err != nil {
			if len(b) == 0 {
				return 0, false, err
			}
			return 0, false, nil
		}
		switch {
		case bytes.Equal(b, deliveredBytes):
			r.consumeAck(n)
			return Delivered, true, nil
		case bytes.Equal(b, fileReceivedBytes):
			r.consumeAck(n)
			return FileReceived, true, nil
		}
		if !bytes.HasPrefix(deliveredBytes, b) && !bytes.HasPrefix(fileReceivedBytes, b) {
			return 0, false, nil
		}
	}
	return 0, false, nil
}

func (r *Reader) consumeAck(n int) {
	r.br.Discard(n) //nolint:errcheck
	if r.br.Buffered() > 0 {
		if b, _ := r.br.Peek(1); b[0] == '\n' {
			r.br.Discard(1) //nolint:errcheck
		}
	}
}

// parseFileHeader splits "name|size" on the last '|'.
func parseFileHeader(s string) (Frame, bool) {
	i := strings.LastIndexByte(s, '|')
	if i <= 0 {
		return Frame{}, false
	}
	size, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || size < 0 {
		return Frame{}, false
	}
	return Frame{Kind: File, Name: s[:i], Size: size}, true
}

// Payload copies exactly f.Size bytes of file data to w.  progress, if
// non-nil, is called with the running total after every write.  A
// stream that ends early yields *errors.TransferSizeMismatch.
func (r *Reader) Payload(w io.Writer, f Frame, progress func(done int64)) (int64, error) {
	if progress != nil {
		w = &progressWriter{w: w, fn: progress}
	}
	n, err := io.CopyN(w, r.br, f.Size)
	if n < f.Size {
		if err == nil || err == io.EOF || ncerr.IsPeerClosed(err) {
			return n, &ncerr.TransferSizeMismatch{Name: f.Name, Want: f.Size, Got: n}
		}
		return n, err
	}
	return n, nil
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
