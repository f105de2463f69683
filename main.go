package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	drand "github.com/drand/drand-watch/internal"
)

func main() {
	// a signal ends a running watch cleanly instead of killing the process
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := drand.CLI()
	if err := app.RunContext(ctx, os.Args); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		stop()
		os.Exit(1)
	}
}
