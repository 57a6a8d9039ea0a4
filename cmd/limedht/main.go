package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BitTorrentFileSharing/limedht/internal/app"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
)

func main() {
	cfg, err := app.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.SetDebug(cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		logger.Error("fatal", err, nil)
		logger.Sync()
		os.Exit(1)
	}
}
