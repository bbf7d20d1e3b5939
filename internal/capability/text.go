package capability

import (
	"io"
	"strings"
	"unicode/utf8"
)

const replacementChar = "\uFFFD"

// textWriter forwards remote output to w with invalid UTF-8 replaced.
// A rune split across writes is held back until its remaining bytes
// arrive.  When line is set it also receives every complete line.
type textWriter struct {
	w    io.Writer
	line func(string)

	pending []byte
	partial string
}

func (t *textWriter) Write(p []byte) (int, error) {
	buf := append(t.pending, p...)
	cut := incompleteTail(buf)
	rest := append([]byte(nil), buf[cut:]...)
	if err := t.emit(strings.ToValidUTF8(string(buf[:cut]), replacementChar)); err != nil {
		return 0, err
	}
	t.pending = rest
	return len(p), nil
}

// Flush writes whatever is held back, replacing a truncated rune, and
// hands an unterminated last line to line.
func (t *textWriter) Flush() error {
	err := t.emit(strings.ToValidUTF8(string(t.pending), replacementChar))
	t.pending = nil
	if t.line != nil && t.partial != "" {
		t.line(strings.TrimRight(t.partial, "\r"))
		t.partial = ""
	}
	return err
}

func (t *textWriter) emit(s string) error {
	if s == "" {
		return nil
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		return err
	}
	if t.line == nil {
		return nil
	}
	t.partial += s
	for {
		i := strings.IndexByte(t.partial, '\n')
		if i < 0 {
			return nil
		}
		t.line(strings.TrimRight(t.partial[:i], "\r"))
		t.partial = t.partial[i+1:]
	}
}

// incompleteTail returns the index where a rune cut off at the end of b
// starts, or len(b) when b ends on a rune boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}
