//go:build windows

package capability

import (
	"errors"
	"io"
	"os/exec"
)

func startPTY(_ *exec.Cmd) (io.ReadCloser, error) {
	return nil, errors.New("pseudo terminals are not supported on windows")
}
