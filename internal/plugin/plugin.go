// Package plugin holds the named operations a peer can invoke over a
// session.  A Registry is built once at startup from built-in plugins
// and the executables found in a plugin directory, and is read-only
// afterwards, so lookups need no locking.
package plugin

import (
	"sort"
	"strings"

	ncerr "gocat/internal/errors"
)

// Plugin is one invocable operation.  Run receives the whitespace-split
// arguments and returns the text sent back to the invoker.
type Plugin interface {
	Name() string
	Run(args []string) (string, error)
}

// Func adapts a function to the Plugin interface.
type Func struct {
	name string
	fn   func(args []string) (string, error)
}

// NewFunc returns a Plugin named name backed by fn.
func NewFunc(name string, fn func(args []string) (string, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string                      { return f.name }
func (f *Func) Run(args []string) (string, error) { return f.fn(args) }

// Registry maps names to plugins.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry registers plugins in order.  A plugin whose name is
// already taken is ignored.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.add(p)
	}
	return r
}

// add reports whether p was registered.
func (r *Registry) add(p Plugin) bool {
	if _, dup := r.plugins[p.Name()]; dup {
		return false
	}
	r.plugins[p.Name()] = p
	return true
}

// Find looks name up exactly (case-sensitive).
func (r *Registry) Find(name string) (Plugin, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.plugins)
}

// Invoke runs the named plugin synchronously.  Errors are always
// *errors.PluginError: PluginNotFound when the name is unknown,
// ExecutionError when the plugin itself fails.
func (r *Registry) Invoke(name string, args []string) (string, error) {
	p, ok := r.Find(name)
	if !ok {
		return "", ncerr.NotFound(name)
	}
	out, err := p.Run(args)
	if err != nil {
		return "", ncerr.Execution(name, err)
	}
	return out, nil
}

// Dispatch invokes name and renders the outcome as text for the peer:
// the result on success, the bracketed error text otherwise.
func Dispatch(r *Registry, name string, args []string) string {
	return Render(r.Invoke(name, args))
}

// Render turns an Invoke outcome into the text sent to a peer.
func Render(out string, err error) string {
	if err != nil {
		return err.Error()
	}
	return out
}

// ── Invocation parsing ───────────────────────────────────────────────

// Command prefixes.  Chat and the local side of the reverse shell use
// ChatPrefix; commands arriving at the shell executor use ShellPrefix.
const (
	ChatPrefix  = "/plugin"
	ShellPrefix = "plugin"
)

// ParseInvocation splits "<prefix> <name> [args...]".  ok is false when
// line does not start with the prefix token.  A prefix with no name
// yields ok=true and errors.ErrMalformedCommand.
func ParseInvocation(line, prefix string) (name string, args []string, ok bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != prefix {
		return "", nil, false, nil
	}
	if len(fields) < 2 {
		return "", nil, true, ncerr.ErrMalformedCommand
	}
	return fields[1], fields[2:], true, nil
}
