// Package scan probes TCP ports with bounded concurrency.  It backs
// both the scan subcommand and the scan plugin.
package scan

import (
	"context"
	"net"
	"sync"
	"time"

	"gocat/config"
	"gocat/util"
)

// DialFunc establishes a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Result records whether a single port is open.
type Result struct {
	Port int
	Open bool
	Err  error
}

// Ports probes every port concurrently and returns results in the same
// order as the input slice.  A nil dial uses a plain net.Dialer.
func Ports(ctx context.Context, host string, ports []int, timeout time.Duration, dial DialFunc) []Result {
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	if timeout <= 0 {
		timeout = config.DefaultScanTimeout
	}

	results := make([]Result, len(ports))
	sem := make(chan struct{}, config.DefaultMaxConcurrentScans)
	var wg sync.WaitGroup

	for i, port := range ports {
		wg.Add(1)
		go func(idx, p int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			scanCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			conn, err := dial(scanCtx, "tcp", util.FormatAddr(host, p))
			if err != nil {
				results[idx] = Result{Port: p, Err: err}
				return
			}
			conn.Close()
			results[idx] = Result{Port: p, Open: true}
		}(i, port)
	}

	wg.Wait()
	return results
}

// Open filters results down to the open port numbers, keeping order.
func Open(results []Result) []int {
	var out []int
	for _, r := range results {
		if r.Open {
			out = append(out, r.Port)
		}
	}
	return out
}
