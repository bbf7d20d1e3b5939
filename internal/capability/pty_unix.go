//go:build !windows

package capability

import (
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// startPTY starts cmd attached to a new pseudo terminal and returns the
// controlling side, which carries the merged output.
func startPTY(cmd *exec.Cmd) (io.ReadCloser, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
}
