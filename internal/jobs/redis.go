package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/models"
)

const (
	jobKeyPrefix = "receipt_job:"
	jobTTL       = 24 * time.Hour
)

// RedisStore keeps jobs as JSON values with a TTL, so a worker and an API
// process can share them. Writes are read-modify-write without locking:
// each job has exactly one writer by design.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, ttl: jobTTL}
}

func (s *RedisStore) Create(ctx context.Context, job *models.ProcessingJob) error {
	return s.save(ctx, job)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.ProcessingJob, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job models.ProcessingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) SetRunning(ctx context.Context, id string) error {
	return s.mutate(ctx, id, setRunning)
}

func (s *RedisStore) SetProgress(ctx context.Context, id string, progress int) error {
	return s.mutate(ctx, id, func(job *models.ProcessingJob) error {
		setProgress(job, progress)
		return nil
	})
}

func (s *RedisStore) SetCompleted(ctx context.Context, id string) error {
	return s.mutate(ctx, id, setCompleted)
}

func (s *RedisStore) SetFailed(ctx context.Context, id string, message string) error {
	return s.mutate(ctx, id, func(job *models.ProcessingJob) error {
		return setFailed(job, message)
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) mutate(ctx context.Context, id string, apply func(*models.ProcessingJob) error) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(job); err != nil {
		return err
	}
	return s.save(ctx, job)
}

func (s *RedisStore) save(ctx context.Context, job *models.ProcessingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}
