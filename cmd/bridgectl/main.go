package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"stockbridge/internal/cli"
	"stockbridge/pkg/logger"
)

func main() {
	logger.InitLogger("cli")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
