// gocat - a network session tool: chat, reverse shell, file transfer,
// proxying and scanning over TCP with optional TLS and SSH gateways.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gocat/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gocat: %v\n", err)
		cancel()
		if cmd.IsUsage(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
