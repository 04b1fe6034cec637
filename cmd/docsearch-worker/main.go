package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/aihub/docsearch/app/bootstrap"
	"github.com/aihub/docsearch/internal/kafka"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/services"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init(bootstrap.Options{StartWorkers: true, StartHealthChecks: true})
	if err != nil {
		log.Fatalf("failed to bootstrap worker: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Config.Kafka
	if !cfg.Enabled {
		logger.Fatal("kafka is disabled; documents are processed inside the API process")
	}

	var pool *services.IngestWorkerPool
	if err := app.Invoke(func(p *services.IngestWorkerPool) { pool = p }); err != nil {
		logger.Fatal("failed to resolve worker pool", zap.Error(err))
	}

	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{cfg.Topic}, kafka.EnqueueHandler(pool))
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(app.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("docsearch worker started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID))
	consumer.Run(ctx)
	logger.Info("docsearch worker stopping")
}
