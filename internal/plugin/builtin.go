package plugin

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gocat/config"
	"gocat/internal/scan"
)

// Builtins returns the plugins compiled into gocat.
func Builtins() []Plugin {
	return []Plugin{
		NewFunc("echo", echo),
		NewFunc("sys_info", sysInfo),
		&Scan{Timeout: config.DefaultScanTimeout},
	}
}

func echo(args []string) (string, error) {
	return strings.Join(args, " "), nil
}

func sysInfo(_ []string) (string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	lines := []string{
		"OS: " + runtime.GOOS,
		"Arch: " + runtime.GOARCH,
		"Hostname: " + host,
		fmt.Sprintf("CPUs: %d", runtime.NumCPU()),
		"Go: " + runtime.Version(),
		fmt.Sprintf("PID: %d", os.Getpid()),
	}
	return strings.Join(lines, "\n"), nil
}

// Scan is the scan plugin: "scan <hosts> <ports>" where hosts is a
// comma list that may use a.b.c.d-e last-octet ranges and ports is a
// comma list of port specs.  One line per host, in input order.
type Scan struct {
	Timeout time.Duration
	Dial    scan.DialFunc
}

const scanUsage = "Usage: /plugin scan <hosts> <ports>\n" +
	"Example: /plugin scan 192.168.1.10-12,192.168.1.20 22,80,443"

func (s *Scan) Name() string { return "scan" }

func (s *Scan) Run(args []string) (string, error) {
	if len(args) < 2 {
		return scanUsage, nil
	}
	hosts, err := config.ExpandHosts(args[0])
	if err != nil {
		return "", err
	}
	ranges, err := config.ParsePortList(args[1])
	if err != nil {
		return "", err
	}
	ports := config.ExpandPorts(ranges)

	lines := make([]string, 0, len(hosts))
	for _, h := range hosts {
		open := scan.Open(scan.Ports(context.Background(), h, ports, s.Timeout, s.Dial))
		if len(open) == 0 {
			lines = append(lines, h+": No open ports")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %v", h, open))
	}
	return strings.Join(lines, "\n"), nil
}
