package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bonvision/receipt-processor/internal/jobs"
	"github.com/bonvision/receipt-processor/internal/service/export"
	"github.com/bonvision/receipt-processor/internal/service/receipt"
	"github.com/bonvision/receipt-processor/internal/store"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

type Handlers struct {
	Receipt *ReceiptHandler
	Export  *ExportHandler
}

func NewHandlers(
	receiptService receipt.Service,
	exportService *export.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Receipt: NewReceiptHandler(receiptService, logger),
		Export:  NewExportHandler(exportService, logger),
	}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleError logs the failure and writes the uniform error body.
func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	log.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, receipt.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
