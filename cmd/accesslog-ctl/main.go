// Package main provides the accesslog-ctl CLI for the job-access table and
// the percentage snapshot.
//
// Usage:
//
//	accesslog-ctl merge [--config <file>] [--first-read] [--local]
//	accesslog-ctl snapshot [--config <file>] [--first-read]
//	accesslog-ctl inspect [--config <file>] [--format table|csv] [--limit N]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
