package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/bonvision/receipt-processor/internal/models"
)

// MemoryStore keeps jobs in a process-local map. The default for
// single-process deployments and for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.ProcessingJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.ProcessingJob)}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

// Get returns a snapshot; callers can hold it across the job's mutations.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) SetRunning(ctx context.Context, id string) error {
	return s.mutate(id, setRunning)
}

func (s *MemoryStore) SetProgress(ctx context.Context, id string, progress int) error {
	return s.mutate(id, func(job *models.ProcessingJob) error {
		setProgress(job, progress)
		return nil
	})
}

func (s *MemoryStore) SetCompleted(ctx context.Context, id string) error {
	return s.mutate(id, setCompleted)
}

func (s *MemoryStore) SetFailed(ctx context.Context, id string, message string) error {
	return s.mutate(id, func(job *models.ProcessingJob) error {
		return setFailed(job, message)
	})
}

func (s *MemoryStore) mutate(id string, apply func(*models.ProcessingJob) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	return apply(job)
}
