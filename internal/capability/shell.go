package capability

import (
	"bufio"
	"context"
	"io"
	"strings"

	"gocat/internal/plugin"
	"gocat/internal/session"
	"gocat/util"
)

const shellPrompt = "shell> "

func isShellExit(cmd string) bool {
	switch strings.ToLower(cmd) {
	case "exit", "quit":
		return true
	}
	return false
}

// ── Issuer (reverse-server side) ─────────────────────────────────────

// ShellIssuer is the operator end of the reverse shell: local lines are
// sent as commands and whatever the remote end produces is copied to
// the local output with invalid UTF-8 replaced.
type ShellIssuer struct {
	// Prompt prints "shell> " before each command; set it when the
	// local input is a terminal.
	Prompt bool
}

// Handle runs until the operator types exit or the remote end leaves.
func (s *ShellIssuer) Handle(ctx context.Context, sess *session.Session) error {
	reader := func(ctx context.Context) error {
		out := &textWriter{w: sess, line: func(l string) {
			sess.Logger.Transcript("RECV: [%s] %s", sess.Peer(), l)
		}}
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		_, err := io.CopyBuffer(out, sess.Reader(), *buf)
		if ferr := out.Flush(); err == nil {
			err = ferr
		}
		return err
	}

	var driver session.Task
	if sess.Input != nil {
		driver = func(ctx context.Context) error { return s.drive(ctx, sess) }
	}
	return sess.Run(ctx, reader, driver)
}

func (s *ShellIssuer) drive(ctx context.Context, sess *session.Session) error {
	for {
		if s.Prompt {
			sess.Printf("%s", shellPrompt)
		}
		line, err := sess.Input.Next(ctx)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		cmd := strings.TrimSpace(line)
		if isShellExit(cmd) {
			return nil
		}

		if name, args, ok, perr := plugin.ParseInvocation(cmd, plugin.ChatPrefix); ok {
			if perr != nil {
				sess.Printf("%s\n", errorColor.Sprint("[!] usage: /plugin <name> [args...]"))
				continue
			}
			out, ierr := sess.Plugins.Invoke(name, args)
			sess.Metrics.PluginInvoked(name, ierr)
			sess.Printf("%s\n", pluginColor.Sprintf("[PLUGIN %s] %s", name, plugin.Render(out, ierr)))
			continue
		}

		if err := sess.Send([]byte(line + "\n")); err != nil {
			return err
		}
		sess.Logger.Transcript("SENT: [%s] %s", sess.Peer(), line)
	}
}

// ── Executor (reverse-client side) ───────────────────────────────────

// ShellExecutor is the remote end of the reverse shell.  Commands are
// newline-terminated; they are queued by the reader and run one at a
// time by the driver, with output streamed back as it is produced.
type ShellExecutor struct {
	PTY bool
}

// Handle runs commands until exit, the peer leaving or cancellation.
// A command still running when the session ends is killed.
func (x *ShellExecutor) Handle(ctx context.Context, sess *session.Session) error {
	queue := make(chan string, 64)

	reader := func(ctx context.Context) error {
		sc := bufio.NewScanner(sess.Reader())
		sc.Buffer(make([]byte, 0, 4096), 1024*1024)
		for sc.Scan() {
			select {
			case queue <- sc.Text():
			case <-ctx.Done():
				return nil
			}
		}
		return sc.Err()
	}

	driver := func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line := <-queue:
				done, err := x.execute(ctx, sess, line)
				if err != nil || done {
					return err
				}
			}
		}
	}
	return sess.Run(ctx, reader, driver)
}

// execute runs one command.  done is true when the command ends the
// session.
func (x *ShellExecutor) execute(ctx context.Context, sess *session.Session, line string) (done bool, err error) {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "":
		return false, nil
	case isShellExit(cmd):
		sess.Logger.Verbose("exit requested by %s", sess.Peer())
		return true, nil
	}

	if name, args, ok, perr := plugin.ParseInvocation(cmd, plugin.ShellPrefix); ok {
		var result string
		if perr != nil {
			result = "usage: plugin <name> [args...]"
		} else {
			out, ierr := sess.Plugins.Invoke(name, args)
			sess.Metrics.PluginInvoked(name, ierr)
			result = plugin.Render(out, ierr)
		}
		return false, sess.Send([]byte(result + "\n"))
	}

	return false, runCommand(ctx, sess, cmd, x.PTY)
}
