package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/framerelay/internal/observability"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func main() {
	observability.InitLogger("relayctl")
	// Results go to stderr; stdout may be the pipes wire.
	color.NoColor = !isatty.IsTerminal(os.Stderr.Fd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runScenario).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
