// Package errors provides domain-specific error types for gocat.
//
// These types carry structured context (operation, address, attempt
// counts, plugin names) that helps callers decide how to handle
// failures and whether a session can continue.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrPeerClosed       = errors.New("peer closed the connection")
	ErrNotConnected     = errors.New("not connected")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTimeout          = errors.New("operation timed out")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrMalformedCommand = errors.New("malformed command line")
	ErrAckTimeout       = errors.New("acknowledgment not received")
)

// ── Structured error types ───────────────────────────────────────────

// ConnectError is a dial, bind or TLS-handshake failure.  On the client
// side it is returned once the retry budget is exhausted.
type ConnectError struct {
	Op       string // "dial", "listen", "handshake"
	Addr     string
	Attempts int // dials made; 0 for listen
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s: giving up after %d attempts: %v", e.Op, e.Addr, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PluginErrorKind distinguishes lookup failures from run failures.
type PluginErrorKind string

const (
	PluginNotFound PluginErrorKind = "PluginNotFound"
	ExecutionError PluginErrorKind = "ExecutionError"
)

// PluginError is returned by plugin invocation.  Its text is safe to
// send verbatim to the invoking peer.
type PluginError struct {
	Kind PluginErrorKind
	Name string
	Err  error
}

func (e *PluginError) Error() string {
	if e.Kind == PluginNotFound {
		return fmt.Sprintf("[%s] no such plugin %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("[%s] plugin %q: %v", e.Kind, e.Name, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// TransferSizeMismatch reports a file transfer whose stream ended
// before the declared size was received.
type TransferSizeMismatch struct {
	Name string
	Want int64
	Got  int64
}

func (e *TransferSizeMismatch) Error() string {
	return fmt.Sprintf("transfer %q: received %d of %d bytes", e.Name, e.Got, e.Want)
}

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// NotFound builds the PluginNotFound error for name.
func NotFound(name string) *PluginError {
	return &PluginError{Kind: PluginNotFound, Name: name}
}

// Execution builds an ExecutionError for name.
func Execution(name string, err error) *PluginError {
	return &PluginError{Kind: ExecutionError, Name: name, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsPeerClosed reports whether err is the ordinary end of a stream:
// EOF, a reset by the peer, or a connection already closed locally.
// Such errors end a session without being logged as failures.
func IsPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsPlugin reports whether err is a PluginError of the given kind.
func IsPlugin(err error, kind PluginErrorKind) bool {
	var pe *PluginError
	return errors.As(err, &pe) && pe.Kind == kind
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }
