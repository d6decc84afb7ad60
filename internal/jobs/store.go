// Package jobs persists processing job state behind a small store
// interface. One orchestrator owns each job and is its only writer;
// readers poll snapshots. Stores clamp progress so it never moves
// backwards and refuse transitions out of terminal states.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/models"
)

// ErrNotFound reports an unknown job id.
var ErrNotFound = errors.New("job not found")

// Store persists processing jobs.
type Store interface {
	Create(ctx context.Context, job *models.ProcessingJob) error
	Get(ctx context.Context, id string) (*models.ProcessingJob, error)
	SetRunning(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, progress int) error
	SetCompleted(ctx context.Context, id string) error
	SetFailed(ctx context.Context, id string, message string) error
}

// NewStore builds the configured implementation: "redis" for shared state
// across processes, anything else the in-process map.
func NewStore(kind string, redisCfg *config.RedisConfig) Store {
	if kind == "redis" {
		return NewRedisStore(redisCfg)
	}
	return NewMemoryStore()
}

func setRunning(job *models.ProcessingJob) error {
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}
	job.Status = models.JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// setProgress reports whether the job changed. Regressions and updates on
// finished jobs are dropped, not errors: late callbacks from a finishing
// pipeline are expected.
func setProgress(job *models.ProcessingJob, progress int) bool {
	if job.Status.Terminal() {
		return false
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= job.Progress {
		return false
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return true
}

func setCompleted(job *models.ProcessingJob) error {
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func setFailed(job *models.ProcessingJob, message string) error {
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}
	job.Status = models.JobStatusFailed
	job.Error = message
	job.UpdatedAt = time.Now().UTC()
	return nil
}
