package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/bonvision/receipt-processor/api/handlers"
	"github.com/bonvision/receipt-processor/api/middleware"
)

// SetupRoutes wires every endpoint onto the engine.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", handlers.HealthCheck)

	v1 := r.Group("/api/v1")

	receipts := v1.Group("/receipts")
	{
		receipts.POST("/upload", h.Receipt.Upload)
		receipts.POST("/process/:fileId", h.Receipt.StartProcessing)
		receipts.GET("/results/:fileId", h.Receipt.GetResults)
		receipts.GET("/export", h.Export.Download)
		receipts.GET("", h.Receipt.ListReceipts)
		receipts.PATCH("/:id", h.Receipt.UpdateReceipt)
	}

	v1.GET("/jobs/:jobId", h.Receipt.GetJob)
}
