// Package metrics tracks runtime statistics of gocat sessions and proxy
// pairs and exposes them in the Prometheus text format.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks runtime metrics for one gocat process.  Every
// Collector owns a private Prometheus registry so several collectors
// (one per test, for instance) never clash on metric names.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	connectRetries    atomic.Int64
	pluginCalls       atomic.Int64
	filesTransferred  atomic.Int64
	errorsTotal       atomic.Int64

	promActive    prometheus.Gauge
	promConns     prometheus.Counter
	promBytes     *prometheus.CounterVec
	promRetries   prometheus.Counter
	promPlugins   *prometheus.CounterVec
	promFiles     *prometheus.CounterVec
	promErrors    *prometheus.CounterVec
	promSessionDt prometheus.Histogram

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry:  reg,
		startTime: time.Now(),
		promActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "gocat_connections_active", Help: "Currently open sessions and proxy pairs"}),
		promConns: f.NewCounter(prometheus.CounterOpts{
			Name: "gocat_connections_total", Help: "Sessions and proxy pairs opened"}),
		promBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gocat_bytes_total", Help: "Bytes moved over the network by direction"}, []string{"direction"}),
		promRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "gocat_connect_retries_total", Help: "Failed connect attempts that were retried"}),
		promPlugins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gocat_plugin_invocations_total", Help: "Plugin invocations by name and outcome"}, []string{"plugin", "outcome"}),
		promFiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gocat_files_total", Help: "Completed file transfers by direction"}, []string{"direction"}),
		promErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gocat_errors_total", Help: "Errors by type"}, []string{"type"}),
		promSessionDt: f.NewHistogram(prometheus.HistogramOpts{
			Name: "gocat_session_duration_seconds", Help: "Session and proxy pair lifetime",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)}),
	}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	c.promActive.Inc()
	c.promConns.Inc()
}

// ConnectionClosed decrements the active counter and records how long
// the connection lived.
func (c *Collector) ConnectionClosed(lifetime time.Duration) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
	c.promActive.Dec()
	c.promSessionDt.Observe(lifetime.Seconds())
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ConnectRetry records a failed connect attempt that will be retried.
func (c *Collector) ConnectRetry() {
	if c == nil {
		return
	}
	c.connectRetries.Add(1)
	c.promRetries.Inc()
}

// ConnectRetries returns the number of retried connect attempts.
func (c *Collector) ConnectRetries() int64 {
	if c == nil {
		return 0
	}
	return c.connectRetries.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(n)
	c.promBytes.WithLabelValues("in").Add(float64(n))
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(n)
	c.promBytes.WithLabelValues("out").Add(float64(n))
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Domain events ────────────────────────────────────────────────────

// PluginInvoked records one plugin call; err is the call's outcome.
func (c *Collector) PluginInvoked(name string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.pluginCalls.Add(1)
	c.promPlugins.WithLabelValues(name, outcome).Inc()
}

// PluginInvocations returns the number of plugin calls recorded.
func (c *Collector) PluginInvocations() int64 {
	if c == nil {
		return 0
	}
	return c.pluginCalls.Load()
}

// FileTransferred records a completed transfer; direction is "sent"
// or "received".
func (c *Collector) FileTransferred(direction string) {
	if c == nil {
		return
	}
	c.filesTransferred.Add(1)
	c.promFiles.WithLabelValues(direction).Inc()
}

// FilesTransferred returns the number of completed transfers.
func (c *Collector) FilesTransferred() int64 {
	if c == nil {
		return 0
	}
	return c.filesTransferred.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter for kind and stores msg.
func (c *Collector) RecordError(kind, msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.promErrors.WithLabelValues(kind).Inc()
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Exposition ───────────────────────────────────────────────────────

// Registry returns the Prometheus registry backing c.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close() //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	ConnectRetries    int64  `json:"connect_retries"`
	PluginInvocations int64  `json:"plugin_invocations"`
	FilesTransferred  int64  `json:"files_transferred"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		ConnectRetries:    c.connectRetries.Load(),
		PluginInvocations: c.pluginCalls.Load(),
		FilesTransferred:  c.filesTransferred.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
