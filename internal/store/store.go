// Package store persists processing results and the receipts inside them.
// Results live in memory for fast reads and are snapshotted as JSON into
// object storage, so results can be served again after a restart. Snapshot
// writes are best effort: a failed write is logged and the in-memory copy
// stays authoritative.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/storage"
)

var ErrNotFound = errors.New("not found")

// ResultStore holds one ProcessingResult per file ID and an index from
// receipt ID to its owning file.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*models.ProcessingResult
	owners  map[string]string
	objects storage.Storage
	log     logger.Logger
}

func NewResultStore(objects storage.Storage, log logger.Logger) *ResultStore {
	return &ResultStore{
		results: make(map[string]*models.ProcessingResult),
		owners:  make(map[string]string),
		objects: objects,
		log:     log,
	}
}

// SaveResult stores the result and snapshots it to object storage.
// An existing result for the same file is replaced.
func (s *ResultStore) SaveResult(ctx context.Context, result *models.ProcessingResult) error {
	if result == nil || result.FileID == "" {
		return fmt.Errorf("result has no file ID")
	}

	stored := result.Clone()

	s.mu.Lock()
	if prev, ok := s.results[stored.FileID]; ok {
		for _, rec := range prev.Receipts {
			delete(s.owners, rec.ID)
		}
	}
	s.results[stored.FileID] = stored
	for _, rec := range stored.Receipts {
		s.owners[rec.ID] = stored.FileID
	}
	s.mu.Unlock()

	s.snapshot(ctx, stored)
	return nil
}

// GetResult returns the result for a file. On a memory miss it tries to
// load the snapshot from object storage.
func (s *ResultStore) GetResult(ctx context.Context, fileID string) (*models.ProcessingResult, error) {
	s.mu.RLock()
	result, ok := s.results[fileID]
	s.mu.RUnlock()
	if ok {
		return result.Clone(), nil
	}

	return s.loadSnapshot(ctx, fileID)
}

// GetReceipt returns a single receipt by its ID.
func (s *ResultStore) GetReceipt(ctx context.Context, id string) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// UpdateReceipt applies a mutation to a stored receipt and re-snapshots
// the owning result. The returned receipt is a copy of the stored state
// after the mutation.
func (s *ResultStore) UpdateReceipt(ctx context.Context, id string, apply func(*models.Receipt)) (*models.Receipt, error) {
	s.mu.Lock()
	rec := s.findLocked(id)
	if rec == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}

	apply(rec)
	updated := rec.Clone()
	owner := s.results[s.owners[id]].Clone()
	s.mu.Unlock()

	s.snapshot(ctx, owner)
	return updated, nil
}

// ListReceipts returns every receipt loaded in this process, ordered by
// processing time, then file, then position within the file.
func (s *ResultStore) ListReceipts(ctx context.Context) []*models.Receipt {
	s.mu.RLock()
	results := make([]*models.ProcessingResult, 0, len(s.results))
	for _, result := range s.results {
		results = append(results, result)
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].ProcessedAt.Equal(results[j].ProcessedAt) {
			return results[i].ProcessedAt.Before(results[j].ProcessedAt)
		}
		return results[i].FileID < results[j].FileID
	})

	var receipts []*models.Receipt
	for _, result := range results {
		for _, rec := range result.Receipts {
			receipts = append(receipts, rec.Clone())
		}
	}
	return receipts
}

// findLocked returns the stored receipt, not a clone. Callers hold s.mu.
func (s *ResultStore) findLocked(id string) *models.Receipt {
	fileID, ok := s.owners[id]
	if !ok {
		return nil
	}
	for _, rec := range s.results[fileID].Receipts {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (s *ResultStore) snapshot(ctx context.Context, result *models.ProcessingResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Error("Failed to marshal result snapshot",
			logger.String("file_id", result.FileID),
			logger.Error(err),
		)
		return
	}

	key := storage.ResultKey(result.FileID)
	if _, err := s.objects.Store(ctx, bytes.NewReader(data), key); err != nil {
		s.log.Error("Failed to write result snapshot",
			logger.String("file_id", result.FileID),
			logger.String("key", key),
			logger.Error(err),
		)
	}
}

func (s *ResultStore) loadSnapshot(ctx context.Context, fileID string) (*models.ProcessingResult, error) {
	obj, err := s.objects.Get(ctx, storage.ResultKey(fileID))
	if err != nil {
		return nil, fmt.Errorf("result for file %s: %w", fileID, ErrNotFound)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read result snapshot: %w", err)
	}

	var result models.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result snapshot: %w", err)
	}

	s.mu.Lock()
	if cached, ok := s.results[fileID]; ok {
		s.mu.Unlock()
		return cached.Clone(), nil
	}
	s.results[fileID] = &result
	for _, rec := range result.Receipts {
		s.owners[rec.ID] = fileID
	}
	s.mu.Unlock()

	return result.Clone(), nil
}
