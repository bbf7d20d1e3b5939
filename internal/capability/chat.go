package capability

import (
	"context"
	"io"
	"strings"
	"time"

	"gocat/internal/plugin"
	"gocat/internal/session"
	"gocat/internal/wire"
)

// Chat commands.
const (
	cmdQuit = "/quit"
	cmdExit = "/exit"
	cmdSend = "/send"
)

// Chat is the interactive message mode used by both server and client.
// Incoming messages are displayed and acknowledged with DELIVERED; each
// local line is sent as a message and the driver waits for its
// acknowledgment before reading the next one.
type Chat struct {
	AckTimeout time.Duration
	OutputDir  string
}

// Handle runs the chat until either side leaves.
func (c *Chat) Handle(ctx context.Context, sess *session.Session) error {
	acks := make(chan wire.Kind, 8)
	in := &inbound{sess: sess, outputDir: c.OutputDir, acks: acks}

	var driver session.Task
	if sess.Input != nil {
		driver = func(ctx context.Context) error { return c.drive(ctx, sess, acks) }
	}
	return sess.Run(ctx, in.run, driver)
}

func (c *Chat) drive(ctx context.Context, sess *session.Session, acks chan wire.Kind) error {
	for {
		line, err := sess.Input.Next(ctx)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "":
			continue
		case cmd == cmdQuit || cmd == cmdExit:
			sess.Logger.Verbose("leaving chat with %s", sess.Peer())
			return nil
		case cmd == cmdSend || strings.HasPrefix(cmd, cmdSend+" "):
			if err := c.send(ctx, sess, acks, strings.TrimSpace(strings.TrimPrefix(cmd, cmdSend))); err != nil {
				return err
			}
			continue
		}

		name, args, ok, perr := plugin.ParseInvocation(line, plugin.ChatPrefix)
		if ok {
			if perr != nil {
				sess.Printf("%s\n", errorColor.Sprint("[!] usage: /plugin <name> [args...]"))
				continue
			}
			out, ierr := sess.Plugins.Invoke(name, args)
			sess.Metrics.PluginInvoked(name, ierr)
			result := plugin.Render(out, ierr)
			sess.Printf("%s\n", pluginColor.Sprintf("[PLUGIN %s] %s", name, result))
			if err := c.message(ctx, sess, acks, result); err != nil {
				return err
			}
			continue
		}

		if err := c.message(ctx, sess, acks, line); err != nil {
			return err
		}
	}
}

// message sends text as one MSG per line, each acknowledged with
// DELIVERED before the next goes out.  Plugin results span lines.
func (c *Chat) message(ctx context.Context, sess *session.Session, acks chan wire.Kind, text string) error {
	for _, line := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
		line = strings.TrimSuffix(line, "\r")
		drainAcks(acks)
		if err := sess.Send(wire.EncodeMsg(line)); err != nil {
			return err
		}
		sess.Logger.Transcript("SENT: [%s] %s", sess.Peer(), line)
		awaitAck(ctx, sess, acks, wire.Delivered, c.AckTimeout)
	}
	return nil
}

// send pushes a file and waits for FILE_RECEIVED.  A file that cannot
// be opened is reported locally and the chat continues.
func (c *Chat) send(ctx context.Context, sess *session.Session, acks chan wire.Kind, path string) error {
	if path == "" {
		sess.Printf("%s\n", errorColor.Sprint("[!] usage: /send <path>"))
		return nil
	}
	drainAcks(acks)
	local, err := sendFile(sess, path)
	if err != nil {
		if !local {
			return err
		}
		sess.Printf("%s\n", errorColor.Sprintf("[!] %v", err))
		sess.Metrics.RecordError("transfer", err.Error())
		return nil
	}
	if awaitAck(ctx, sess, acks, wire.FileReceived, c.AckTimeout) {
		sess.Printf("[FILE %s DELIVERED]\n", path)
	}
	return nil
}
