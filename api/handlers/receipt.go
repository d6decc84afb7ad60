package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/service/receipt"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

type ReceiptHandler struct {
	service receipt.Service
	logger  logger.Logger
}

// UploadResponse describes a stored receipt file.
type UploadResponse struct {
	FileID      string `json:"fileId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	UploadedAt  string `json:"uploadedAt"`
}

func NewReceiptHandler(service receipt.Service, logger logger.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		service: service,
		logger:  logger,
	}
}

// Upload stores a receipt file for later processing.
func (h *ReceiptHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	stored, err := h.service.Upload(c.Request.Context(), file, header)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to store file", err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		FileID:      stored.ID,
		Filename:    stored.Filename,
		ContentType: stored.ContentType,
		Size:        stored.Size,
		Hash:        stored.Hash,
		UploadedAt:  stored.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// StartProcessing creates a processing job for an uploaded file.
func (h *ReceiptHandler) StartProcessing(c *gin.Context) {
	fileID := c.Param("fileId")
	if fileID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "File ID is required", nil)
		return
	}

	job, err := h.service.StartProcessing(c.Request.Context(), fileID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to start processing", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     job.ID,
		"fileId":    job.FileID,
		"status":    string(job.Status),
		"createdAt": job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetJob returns the status of a processing job, for polling.
func (h *ReceiptHandler) GetJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":     job.ID,
		"fileId":    job.FileID,
		"status":    string(job.Status),
		"progress":  job.Progress,
		"error":     job.Error,
		"createdAt": job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updatedAt": job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetResults returns the processing result for a file.
func (h *ReceiptHandler) GetResults(c *gin.Context) {
	fileID := c.Param("fileId")
	if fileID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "File ID is required", nil)
		return
	}

	result, err := h.service.GetResults(c.Request.Context(), fileID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to get results", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpdateReceipt applies a manual correction to a stored receipt.
func (h *ReceiptHandler) UpdateReceipt(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		handleError(c, h.logger, http.StatusBadRequest, "Receipt ID is required", nil)
		return
	}

	var patch models.ReceiptPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid receipt patch", err)
		return
	}

	updated, err := h.service.UpdateReceipt(c.Request.Context(), id, &patch)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to update receipt", err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// ListReceipts returns every persisted receipt.
func (h *ReceiptHandler) ListReceipts(c *gin.Context) {
	receipts, err := h.service.ListReceipts(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to list receipts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipts": receipts,
		"count":    len(receipts),
	})
}
