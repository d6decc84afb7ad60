// Package queue dispatches receipt processing work to background workers
// over Redis using asynq. Job state lives in the jobs store; the queue
// only carries the work order.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bonvision/receipt-processor/config"
)

const TaskTypeReceiptProcess = "receipt:process"

// ProcessPayload is the body of a receipt:process task. It carries the
// storage key and content type so a worker in another process can load
// the file without access to the uploader's file registry.
type ProcessPayload struct {
	JobID       string `json:"job_id"`
	FileID      string `json:"file_id"`
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`
}

// Client enqueues processing tasks. The job ID doubles as the asynq task
// ID, so enqueueing the same job twice is rejected by the broker.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// EnqueueProcess schedules processing of a stored file under the given job.
func (c *Client) EnqueueProcess(ctx context.Context, payload *ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeReceiptProcess, data,
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
	)

	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
