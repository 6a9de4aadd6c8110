// Package main provides the entry point for the keyauth command.
//
// keyauth drives the KeyAuth client library from the command line: it runs
// the handshake, authenticates users, downloads files and keeps a session
// under watch while exposing Prometheus metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
