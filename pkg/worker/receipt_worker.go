package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/queue"
)

// TaskHandler processes one dequeued receipt task. The receipt service
// implements it; job progress and status are written to the jobs store
// by the handler, not by the worker.
type TaskHandler interface {
	HandleProcessTask(ctx context.Context, payload *queue.ProcessPayload) error
}

type ReceiptWorker struct {
	BaseWorker
	handler TaskHandler
}

func NewReceiptWorker(cfg *Config, handler TaskHandler, log logger.Logger) (*ReceiptWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &ReceiptWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handler: handler,
	}

	w.registerHandlers()
	return w, nil
}

func (w *ReceiptWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeReceiptProcess, w.handleProcess)
}

func (w *ReceiptWorker) handleProcess(ctx context.Context, t *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal task payload",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	w.logger.Info("Processing receipt task",
		logger.String("job_id", payload.JobID),
		logger.String("file_id", payload.FileID),
	)

	return w.handler.HandleProcessTask(ctx, &payload)
}

func (w *ReceiptWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
