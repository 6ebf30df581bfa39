// Package main is the flatten command itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/flatten/cli"
	"go.viam.com/flatten/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		logging.Global().Fatal(err)
	}
}
