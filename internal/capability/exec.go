package capability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"gocat/internal/session"
)

// shellCommand builds the platform shell invocation for line.  The
// process is killed when ctx is done.
func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", line)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", line)
}

// runCommand executes line and streams its merged stdout and stderr to
// the peer one line at a time, as the lines are produced.  With usePTY
// the command runs on a pseudo terminal where the platform has one.
func runCommand(ctx context.Context, sess *session.Session, line string, usePTY bool) error {
	cmd := shellCommand(ctx, line)
	sess.Logger.Debug("exec: %s", cmd.String())

	var out io.ReadCloser
	if usePTY {
		f, err := startPTY(cmd)
		if err == nil {
			out = f
		} else {
			sess.Logger.Warn("pty unavailable, using pipes: %v", err)
			cmd = shellCommand(ctx, line)
		}
	}

	if out == nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		cmd.Stderr = cmd.Stdout
		if err := cmd.Start(); err != nil {
			return sess.Send([]byte(fmt.Sprintf("%s: %v\n", line, err)))
		}
		out = pipe
	} else {
		defer out.Close()
	}

	streamErr := streamLines(out, sess.Send)
	waitErr := cmd.Wait()

	if streamErr != nil {
		return streamErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		sess.Logger.Verbose("exec %q: %v", line, waitErr)
	} else if exitErr != nil {
		sess.Logger.Verbose("exec %q: exit status %d", line, exitErr.ExitCode())
	}
	return nil
}

// streamLines forwards r to send line by line.  Any read error ends
// the output; a pty reports its end as EIO rather than io.EOF.
func streamLines(r io.Reader, send func([]byte) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if serr := send(line); serr != nil {
				return serr
			}
		}
		if err != nil {
			return nil
		}
	}
}
