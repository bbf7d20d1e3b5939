// Package core is the orchestration layer.  It composes transports
// and capabilities into complete operational modes and provides a
// builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  wire  →  session  →  capability  →  core  →  cmd (CLI)
package core

import (
	"context"
	"io"
	"net"
	"os"

	"gocat/config"
	"gocat/internal/metrics"
	"gocat/internal/plugin"
	"gocat/internal/session"
	"gocat/util"
)

// Mode represents a complete operational mode of gocat.  Each mode
// owns its full lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// Deps carries the process-wide components every mode shares.  The
// zero value is usable: nil fields fall back to silent or empty
// implementations.
type Deps struct {
	Logger  *util.Logger
	Metrics *metrics.Collector
	Plugins *plugin.Registry

	// Input yields local lines for chat and shell drivers.
	Input  *util.LineFeed
	Stdout io.Writer

	// Interactive is true when Input is a terminal.
	Interactive bool
}

func (d *Deps) logger() *util.Logger {
	if d.Logger == nil {
		d.Logger = util.NopLogger()
	}
	return d.Logger
}

func (d *Deps) stdout() io.Writer {
	if d.Stdout == nil {
		return os.Stdout
	}
	return d.Stdout
}

// newSession binds conn to the shared components.
func (d *Deps) newSession(conn net.Conn, mode config.Mode) *session.Session {
	sess := session.New(conn, d.Input, d.stdout(), d.logger())
	sess.Mode = mode
	sess.Plugins = d.Plugins
	sess.Metrics = d.Metrics
	return sess
}
