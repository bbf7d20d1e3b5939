package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. YAML config file (--config)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── YAML file ────────────────────────────────────────────────────────

// FileConfig is the on-disk layout of a --config file.  Every field is
// optional; zero values leave the current setting untouched.
type FileConfig struct {
	Timeout    string `yaml:"timeout"`
	Retries    *int   `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`
	KeepAlive  *bool  `yaml:"keepalive"`

	TLS struct {
		Enabled    *bool  `yaml:"enabled"`
		Cert       string `yaml:"cert"`
		Key        string `yaml:"key"`
		CA         string `yaml:"ca"`
		ServerName string `yaml:"server_name"`
		Insecure   *bool  `yaml:"insecure"`
	} `yaml:"tls"`

	OutputDir   string  `yaml:"output_dir"`
	PluginDir   string  `yaml:"plugin_dir"`
	AckTimeout  string  `yaml:"ack_timeout"`
	Log         string  `yaml:"log"`
	Verbose     *int    `yaml:"verbose"`
	AcceptRate  float64 `yaml:"accept_rate"`
	MetricsAddr string  `yaml:"metrics_addr"`
	ScanTimeout string  `yaml:"scan_timeout"`

	SSH struct {
		Tunnel        string `yaml:"tunnel"`
		Key           string `yaml:"key"`
		Agent         *bool  `yaml:"agent"`
		StrictHostKey *bool  `yaml:"strict_hostkey"`
		KnownHosts    string `yaml:"known_hosts"`
	} `yaml:"ssh"`
}

// LoadFile reads the YAML file at path and overlays it onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) error {
	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"timeout", fc.Timeout, &cfg.Conn.Timeout},
		{"retry_delay", fc.RetryDelay, &cfg.Conn.RetryDelay},
		{"ack_timeout", fc.AckTimeout, &cfg.AckTimeout},
		{"scan_timeout", fc.ScanTimeout, &cfg.ScanTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file: %s: %w", d.field, err)
		}
		*d.dst = v
	}

	setInt(&cfg.Conn.MaxRetries, fc.Retries)
	setBool(&cfg.Conn.KeepAlive, fc.KeepAlive)
	setBool(&cfg.Conn.TLS, fc.TLS.Enabled)
	setString(&cfg.Conn.TLSCert, fc.TLS.Cert)
	setString(&cfg.Conn.TLSKey, fc.TLS.Key)
	setString(&cfg.Conn.TLSCA, fc.TLS.CA)
	setString(&cfg.Conn.TLSServerName, fc.TLS.ServerName)
	setBool(&cfg.Conn.TLSInsecure, fc.TLS.Insecure)

	setString(&cfg.OutputDir, fc.OutputDir)
	setString(&cfg.PluginDir, fc.PluginDir)
	setString(&cfg.LogPath, fc.Log)
	setInt(&cfg.Verbose, fc.Verbose)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	if fc.AcceptRate > 0 {
		cfg.AcceptRate = fc.AcceptRate
	}

	setString(&cfg.TunnelSpec, fc.SSH.Tunnel)
	setString(&cfg.SSHKeyPath, fc.SSH.Key)
	setBool(&cfg.UseSSHAgent, fc.SSH.Agent)
	setBool(&cfg.StrictHostKey, fc.SSH.StrictHostKey)
	setString(&cfg.KnownHostsPath, fc.SSH.KnownHosts)
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GOCAT_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("750ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := envInt("GOCAT_RETRIES"); v >= 0 {
		cfg.Conn.MaxRetries = v
	}
	if v := envDuration("GOCAT_TIMEOUT"); v > 0 {
		cfg.Conn.Timeout = v
	}
	if v := envDuration("GOCAT_RETRY_DELAY"); v > 0 {
		cfg.Conn.RetryDelay = v
	}
	if envBool("GOCAT_KEEPALIVE") {
		cfg.Conn.KeepAlive = true
	}

	// TLS
	if envBool("GOCAT_TLS") {
		cfg.Conn.TLS = true
	}
	setString(&cfg.Conn.TLSCert, os.Getenv("GOCAT_TLS_CERT"))
	setString(&cfg.Conn.TLSKey, os.Getenv("GOCAT_TLS_KEY"))
	setString(&cfg.Conn.TLSCA, os.Getenv("GOCAT_TLS_CA"))
	setString(&cfg.Conn.TLSServerName, os.Getenv("GOCAT_TLS_SERVER_NAME"))
	if envBool("GOCAT_TLS_INSECURE") {
		cfg.Conn.TLSInsecure = true
	}

	// Sessions
	setString(&cfg.OutputDir, os.Getenv("GOCAT_OUTPUT_DIR"))
	setString(&cfg.PluginDir, os.Getenv("GOCAT_PLUGIN_DIR"))
	if v := envDuration("GOCAT_ACK_TIMEOUT"); v > 0 {
		cfg.AckTimeout = v
	}

	// SSH tunnel
	setString(&cfg.TunnelSpec, os.Getenv("GOCAT_TUNNEL"))
	setString(&cfg.SSHKeyPath, os.Getenv("GOCAT_SSH_KEY"))
	if envBool("GOCAT_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("GOCAT_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("GOCAT_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	setString(&cfg.KnownHostsPath, os.Getenv("GOCAT_KNOWN_HOSTS"))

	// Output
	setString(&cfg.LogPath, os.Getenv("GOCAT_LOG"))
	setString(&cfg.MetricsAddr, os.Getenv("GOCAT_METRICS_ADDR"))
	if v := envInt("GOCAT_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// envInt returns -1 when key is unset or not a number.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
