package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/launcher"
	"ai-trader-go/internal/logger"
)

func main() {
	// Resolve configuration first; a missing config file must fail the run
	// before any child process is started.
	cfg, err := config.Resolve(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	code := launcher.New(cfg, log).Run(context.Background(), signals)

	log.Sync()
	os.Exit(code)
}
