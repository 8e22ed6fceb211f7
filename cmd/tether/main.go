package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/tether-cli/cmd"
	"github.com/xkilldash9x/tether-cli/internal/observability"
)

func main() {
	// Graceful shutdown on SIGINT/SIGTERM: cancellation propagates through
	// the pipeline so in-flight steps finish and the run terminates cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
