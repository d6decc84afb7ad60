package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bonvision/receipt-processor/api/handlers"
	"github.com/bonvision/receipt-processor/api/routes"
	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/service/export"
	"github.com/bonvision/receipt-processor/internal/service/receipt"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init services
	deps, svcCfg, err := receipt.GetDeps(ctx, log)
	if err != nil {
		log.Fatal("Failed to wire receipt service:", logger.Error(err))
	}
	receiptService := receipt.NewService(deps, log, svcCfg)
	exportService := export.NewService(deps.Results, log)

	// init handlers
	h := handlers.NewHandlers(receiptService, exportService, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	appCfg := config.GetAppConfig()
	srv := &http.Server{
		Addr:    appCfg.ServerAddr,
		Handler: r,
	}

	// periodic cleanup of expired uploads
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := receiptService.Cleanup(ctx); err != nil {
					log.Error("Cleanup run failed", logger.Error(err))
				}
			}
		}
	}()

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", appCfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error:", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown:", logger.Error(err))
	}
}
