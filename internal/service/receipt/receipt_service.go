package receipt

import (
	"context"
	"mime/multipart"

	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/pkg/queue"
)

// Service is the application surface behind the HTTP API and the worker.
type Service interface {
	Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*models.StoredFile, error)
	StartProcessing(ctx context.Context, fileID string) (*models.ProcessingJob, error)
	GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
	GetResults(ctx context.Context, fileID string) (*models.ProcessingResult, error)
	UpdateReceipt(ctx context.Context, id string, patch *models.ReceiptPatch) (*models.Receipt, error)
	ListReceipts(ctx context.Context) ([]*models.Receipt, error)
	HandleProcessTask(ctx context.Context, payload *queue.ProcessPayload) error
	Cleanup(ctx context.Context) error
}
