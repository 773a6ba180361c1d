package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/database"
	"ai-trader-go/internal/logger"
	"ai-trader-go/internal/toolservice"
	"ai-trader-go/internal/upbit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ResolveEnv()

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Tool.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	client := upbit.NewClient(&cfg.Upbit, log)
	broker := toolservice.NewPaperBroker(db, client, cfg.Tool.FeeRate, cfg.Tool.Quote, log)
	handler := toolservice.NewHandler(client, broker, cfg.Tool.Quote, log)

	server := toolservice.NewServer(cfg.Tool.Port, handler.Router(), log)
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
