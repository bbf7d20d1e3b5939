package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultScanTimeout is the per-port timeout for port scanning.
	DefaultScanTimeout = 3 * time.Second

	// DefaultMaxConcurrentScans limits the number of simultaneous scan
	// goroutines to prevent resource exhaustion.
	DefaultMaxConcurrentScans = 100

	// DefaultConnTimeout is the TCP connect (and TLS handshake) timeout.
	DefaultConnTimeout = 10 * time.Second

	// DefaultMaxRetries is how many times a client retries a failed dial.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the fixed pause between dial attempts.
	DefaultRetryDelay = time.Second

	// DefaultAckTimeout bounds how long a sender waits for DELIVERED or
	// FILE_RECEIVED before warning and moving on.
	DefaultAckTimeout = 10 * time.Second

	// DefaultOutputDir is where received files are written.
	DefaultOutputDir = "received_files"

	// DefaultPluginDir is scanned for executable plugins.
	DefaultPluginDir = "plugins"

	// DefaultChunkSize is the write size for file payloads.
	DefaultChunkSize = 1024

	// DefaultBreakerThreshold is how many consecutive remote dial
	// failures open the proxy's circuit breaker.
	DefaultBreakerThreshold = 5

	// DefaultBreakerReset is how long the breaker stays open.
	DefaultBreakerReset = 30 * time.Second

	// DefaultReconnectDelay and DefaultReconnectMax bound the
	// exponential backoff used to re-bind a gateway listener after the
	// SSH connection drops.
	DefaultReconnectDelay = time.Second
	DefaultReconnectMax   = 30 * time.Second

	// DefaultGracePeriod is how long a finished session waits for its
	// other task to wind down.
	DefaultGracePeriod = 5 * time.Second
)
