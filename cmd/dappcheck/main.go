// Command dappcheck runs end-to-end scenarios against the Ontora AI DApp.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dicklesworthstone/dappcheck/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
