package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/dashboard"
	"ai-trader-go/internal/logger"
	"ai-trader-go/internal/upbit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ResolveEnv()

	port := pflag.Int("port", cfg.Dashboard.Port, "port to listen on")
	reload := pflag.Bool("reload", cfg.Dashboard.Reload, "disable response caching for development")
	workers := pflag.Int("workers", cfg.Dashboard.Workers, "advisory worker count")
	limit := pflag.Int("limit-concurrency", cfg.Dashboard.LimitConcurrency, "maximum in-flight requests, 0 disables shedding")
	pflag.Parse()

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Reload mode serves every request from a fresh ledger read, which only
	// stays coherent with a single worker.
	if *reload && *workers != 1 {
		log.Warn("Reload mode runs a single worker", zap.Int("requested_workers", *workers))
		*workers = 1
	}
	log.Info("Dashboard options",
		zap.Bool("reload", *reload),
		zap.Int("workers", *workers),
		zap.Int("limit_concurrency", *limit),
	)

	client := upbit.NewClient(&cfg.Upbit, log)
	handler := dashboard.NewHandler(cfg.Paths.DataDir, client, cfg.Tool.Quote, *reload, log)

	server := dashboard.NewServer(*port, handler.Router(*limit), log)
	server.Start()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Shutdown failed", zap.Error(err))
	}
}
