package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bonvision/receipt-processor/internal/service/export"
	"github.com/bonvision/receipt-processor/internal/store"
	"github.com/bonvision/receipt-processor/pkg/converters"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

type ExportHandler struct {
	service *export.Service
	logger  logger.Logger
}

func NewExportHandler(service *export.Service, logger logger.Logger) *ExportHandler {
	return &ExportHandler{
		service: service,
		logger:  logger,
	}
}

// Download renders persisted receipts as an attachment. The format query
// selects csv or xlsx; an optional fileId restricts the export to one file.
func (h *ExportHandler) Download(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	fileID := c.Query("fileId")

	file, err := h.service.Export(c.Request.Context(), format, fileID)
	if err != nil {
		switch {
		case errors.Is(err, converters.ErrUnsupportedFormat):
			handleError(c, h.logger, http.StatusBadRequest, "Unsupported export format", err)
		case errors.Is(err, export.ErrNoReceipts), errors.Is(err, store.ErrNotFound):
			handleError(c, h.logger, http.StatusNotFound, "No receipts found", err)
		default:
			handleError(c, h.logger, http.StatusInternalServerError, "Failed to export receipts", err)
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
