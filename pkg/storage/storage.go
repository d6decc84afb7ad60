// Package storage abstracts the object store that holds uploaded receipt
// files and processing result snapshots. Backends exist for MinIO and
// Amazon S3 behind the same interface.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/storage/minio"
	"github.com/bonvision/receipt-processor/pkg/storage/s3"
)

// StorageType selects the object-store backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Object keys are grouped by prefix so retention cleanup can target
// uploaded originals without touching derived artifacts.
const (
	UploadPrefix = "uploads/"
	ResultPrefix = "results/"
)

// UploadKey returns the object key for an uploaded receipt file.
func UploadKey(fileID, ext string) string {
	return UploadPrefix + fileID + ext
}

// ResultKey returns the object key for a processing result snapshot.
func ResultKey(fileID string) string {
	return ResultPrefix + fileID + ".json"
}

// Storage is the object-store surface the service layer depends on.
type Storage interface {
	// Store writes the object under key and returns the key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the object stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects under prefix last modified before threshold.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error
}

// NewStorage builds the configured backend.
func NewStorage(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.New(log)
	case StorageTypeMinio:
		return minio.New(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
