package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/bonvision/receipt-processor/internal/models"
)

// FileStore tracks uploaded file metadata. It is process-local: after a
// restart a file must be uploaded again before processing can start.
// Result snapshots carry their own durability.
type FileStore struct {
	mu    sync.RWMutex
	files map[string]models.StoredFile
}

func NewFileStore() *FileStore {
	return &FileStore{files: make(map[string]models.StoredFile)}
}

func (s *FileStore) SaveFile(ctx context.Context, file *models.StoredFile) error {
	if file == nil || file.ID == "" {
		return fmt.Errorf("file has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file.ID] = *file
	return nil
}

func (s *FileStore) GetFile(ctx context.Context, id string) (*models.StoredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return &file, nil
}
