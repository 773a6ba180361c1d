package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ai-trader-go/internal/agent"
	"ai-trader-go/internal/config"
	"ai-trader-go/internal/logger"
)

func main() {
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
	defer log.Sync()

	exp, err := config.LoadExperiment(cfg.ConfigPath)
	if err != nil {
		log.Fatal("Failed to load experiment config", zap.Error(err))
	}

	// Cancel the run context on the first shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	tools := agent.NewToolClient(cfg.Tool.BaseURL)
	runner := agent.NewRunner(cfg, exp, tools, log)
	if err := runner.Run(ctx); err != nil {
		log.Fatal("Agent run failed", zap.Error(err))
	}

	log.Info("Agent run complete")
}
