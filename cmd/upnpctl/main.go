package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"upnpctl/internal/cli"
)

const (
	exitSuccess     = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// A second signal after cancellation exits without waiting for cleanup.
		<-ctx.Done()
		stop()
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc
		os.Exit(exitInterrupted)
	}()

	err := cli.Execute(ctx, os.Args[1:], version)
	code := exitCode(ctx, err, os.Stderr)
	stop()
	os.Exit(code)
}

func exitCode(ctx context.Context, err error, stderr io.Writer) int {
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		fmt.Fprintln(stderr, "Interrupted (Ctrl-C)")
		return exitInterrupted
	}
	if err == nil {
		return exitSuccess
	}
	var ue cli.UsageError
	if errors.As(err, &ue) {
		fmt.Fprintln(stderr, ue.Msg)
		return exitUsage
	}
	fmt.Fprintln(stderr, "Error:", err.Error())
	return exitFailure
}
