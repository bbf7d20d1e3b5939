package core

import (
	"context"
	"fmt"
	"io"

	"gocat/internal/plugin"
	"gocat/internal/proxy"
)

// ProxyMode relays every local client to a fixed remote endpoint.
type ProxyMode struct {
	Forwarder *proxy.Forwarder
}

// Run serves until ctx is done.  The remote-leg dialer is closed when
// Run returns.
func (m *ProxyMode) Run(ctx context.Context) error {
	if d := m.Forwarder.Dialer; d != nil {
		defer d.Close()
	}
	return m.Forwarder.Serve(ctx)
}

// PluginsMode prints the name of every registered plugin.
type PluginsMode struct {
	Registry *plugin.Registry
	Out      io.Writer
}

// Run writes one name per line in lexical order.
func (m *PluginsMode) Run(_ context.Context) error {
	names := m.Registry.Names()
	if len(names) == 0 {
		fmt.Fprintln(m.Out, "no plugins loaded")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(m.Out, name)
	}
	return nil
}
