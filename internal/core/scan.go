package core

import (
	"context"
	"fmt"
	"time"

	"gocat/internal/scan"
	"gocat/internal/transport"
)

// ScanMode probes a set of TCP ports on one or more hosts and reports
// which are open, one "host port/tcp open" line each.
type ScanMode struct {
	Dialer  transport.Dialer
	Hosts   []string
	Ports   []int
	Timeout time.Duration
	Verbose int
	Deps
}

// Run scans every host in turn.  The dialer is closed when Run returns.
func (m *ScanMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}
	if len(m.Ports) == 0 {
		return fmt.Errorf("no ports specified for scanning")
	}

	var dial scan.DialFunc
	if m.Dialer != nil {
		dial = m.Dialer.Dial
	}

	out := m.stdout()
	for _, host := range m.Hosts {
		if ctx.Err() != nil {
			return nil
		}
		m.logger().Verbose("scanning %s - %d port(s)", host, len(m.Ports))

		results := scan.Ports(ctx, host, m.Ports, m.Timeout, dial)
		open := 0
		for _, r := range results {
			if r.Open {
				open++
				fmt.Fprintf(out, "%s %d/tcp open\n", host, r.Port)
			} else if m.Verbose >= 2 {
				m.logger().Verbose("%s %d/tcp closed - %v", host, r.Port, r.Err)
			}
		}
		if open == 0 {
			m.logger().Info("no open ports found on %s", host)
		}
	}
	return nil
}
