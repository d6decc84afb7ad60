// Package export renders persisted receipts into downloadable files.
package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/store"
	"github.com/bonvision/receipt-processor/pkg/converters"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

// ErrNoReceipts is returned when there is nothing to export.
var ErrNoReceipts = errors.New("no receipts to export")

// File is a rendered export ready to be served as a download.
type File struct {
	Data        []byte
	ContentType string
	Filename    string
}

type Service struct {
	results *store.ResultStore
	logger  logger.Logger
}

func NewService(results *store.ResultStore, log logger.Logger) *Service {
	return &Service{results: results, logger: log}
}

// Export renders receipts in the given format. With a file ID only that
// file's receipts are exported, in receipt-number order; otherwise every
// persisted receipt is.
func (s *Service) Export(ctx context.Context, format, fileID string) (*File, error) {
	conv, err := converters.ForFormat(format)
	if err != nil {
		return nil, err
	}

	var receipts []*models.Receipt
	if fileID != "" {
		result, err := s.results.GetResult(ctx, fileID)
		if err != nil {
			return nil, err
		}
		receipts = result.Receipts
	} else {
		receipts = s.results.ListReceipts(ctx)
	}
	if len(receipts) == 0 {
		return nil, ErrNoReceipts
	}

	data, err := conv.Convert(receipts)
	if err != nil {
		return nil, fmt.Errorf("failed to convert receipts: %w", err)
	}

	name := "receipts"
	if fileID != "" {
		name = fileID + "_receipts"
	}

	s.logger.Info("Receipts exported",
		logger.String("format", format),
		logger.Int("count", len(receipts)),
	)
	return &File{
		Data:        data,
		ContentType: conv.ContentType(),
		Filename:    name + conv.Extension(),
	}, nil
}

func (s *Service) ExportCSV(ctx context.Context, fileID string) (*File, error) {
	return s.Export(ctx, "csv", fileID)
}

func (s *Service) ExportXLSX(ctx context.Context, fileID string) (*File, error) {
	return s.Export(ctx, "xlsx", fileID)
}
