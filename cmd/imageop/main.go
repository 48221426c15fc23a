// Command imageop inspects images and renders their tile pyramids through the
// operation cache, using a per-process scratch session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/objectfs/imageop/internal/config"
)

var version = "dev"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	// Best-effort: .env values become defaults for IMAGEOP_* variables.
	if err := config.LoadDotEnv(""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
