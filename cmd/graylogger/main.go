// Gray Logic Logger - data acquisition logging engine
//
// This is the main entry point for the Gray Logic Logger application.
// The logger reads variables from a set of sources on a schedule, merges
// them into one record per output and writes the records to CSV files,
// MQTT, InfluxDB, SQLite or WebSocket clients.
//
// Usage:
//
//	graylogger run --config configs/config.yaml
//	graylogger check --config configs/config.yaml
//	graylogger version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}
