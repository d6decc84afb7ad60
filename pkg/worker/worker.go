// Package worker runs the background consumers that take receipt
// processing tasks off the Redis queue.
package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/bonvision/receipt-processor/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queues        map[string]int
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// Stop is idempotent; both the signal handler and the context watcher
// may call it during shutdown.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Stop()
	})
	return nil
}
