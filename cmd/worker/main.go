package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/service/receipt"
	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/worker"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiptService, err := receipt.GetService(ctx, log)
	if err != nil {
		log.Error("Failed to wire receipt service", logger.Error(err))
		os.Exit(1)
	}

	appCfg := config.GetAppConfig()
	redisCfg := config.GetRedisConfig()
	workerCfg := &worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   appCfg.WorkerCount,
		Queues: map[string]int{
			"default": 1,
		},
	}

	receiptWorker, err := worker.NewReceiptWorker(workerCfg, receiptService, log)
	if err != nil {
		log.Error("Failed to create receipt worker", logger.Error(err))
		os.Exit(1)
	}

	if err := receiptWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	log.Info("Worker started",
		logger.String("redis", redisCfg.Addr),
		logger.Int("concurrency", appCfg.WorkerCount),
	)

	// wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	receiptWorker.Stop()
	log.Info("Worker stopped")
}
