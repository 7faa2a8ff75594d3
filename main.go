package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/makotom/mbpsmeter/speedtest"
)

var (
	BuildName       = "\b"
	BuildAnnotation = "git"
)

// exitCode maps the failure kind onto the process exit status.
func exitCode(err error) int {
	kind, ok := speedtest.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case speedtest.KindConfig:
		return 2
	case speedtest.KindNetwork:
		return 3
	case speedtest.KindTimeout:
		return 4
	case speedtest.KindCancelled:
		return 130
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		if kind, ok := speedtest.KindOf(err); ok {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}
