package receipt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/detect"
	"github.com/bonvision/receipt-processor/internal/extract"
	"github.com/bonvision/receipt-processor/internal/jobs"
	"github.com/bonvision/receipt-processor/internal/llm"
	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/ocr"
	"github.com/bonvision/receipt-processor/internal/pipeline"
	"github.com/bonvision/receipt-processor/internal/rag"
	"github.com/bonvision/receipt-processor/internal/store"
	"github.com/bonvision/receipt-processor/internal/vat"
	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/queue"
	"github.com/bonvision/receipt-processor/pkg/storage"
)

// ErrInvalidUpload marks uploads rejected by validation.
var ErrInvalidUpload = errors.New("invalid upload")

// Dispatcher hands a processing order to whatever executes it: the asynq
// client in queue mode, or an in-process goroutine in inline mode.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload *queue.ProcessPayload) error
}

type ReceiptService struct {
	pipeline  *pipeline.Pipeline
	jobs      jobs.Store
	files     *store.FileStore
	results   *store.ResultStore
	objects   storage.Storage
	retriever *rag.Retriever
	dispatch  Dispatcher
	logger    logger.Logger
	config    *ServiceConfig
}

type ServiceConfig struct {
	MaxFileSize     int64
	RetentionPeriod time.Duration
}

// Deps bundles the collaborators of the receipt service.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Jobs      jobs.Store
	Files     *store.FileStore
	Results   *store.ResultStore
	Objects   storage.Storage
	Retriever *rag.Retriever
	Dispatch  Dispatcher
}

func NewService(deps Deps, log logger.Logger, cfg *ServiceConfig) Service {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxFileSize:     50 * 1024 * 1024, // 50MB
			RetentionPeriod: 24 * time.Hour,
		}
	}

	svc := &ReceiptService{
		pipeline:  deps.Pipeline,
		jobs:      deps.Jobs,
		files:     deps.Files,
		results:   deps.Results,
		objects:   deps.Objects,
		retriever: deps.Retriever,
		dispatch:  deps.Dispatch,
		logger:    log,
		config:    cfg,
	}
	if svc.dispatch == nil {
		svc.dispatch = &inlineDispatcher{svc: svc}
	}
	return svc
}

// GetDeps wires the collaborator set from environment configuration. It
// is separate from GetService so entrypoints can hand individual
// collaborators, like the result store, to other services.
func GetDeps(ctx context.Context, log logger.Logger) (Deps, *ServiceConfig, error) {
	appCfg := config.GetAppConfig()
	pipeCfg := config.GetPipelineConfig()

	objects, err := storage.NewStorage(storage.StorageType(appCfg.StorageType), log)
	if err != nil {
		return Deps{}, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	recognizer, err := ocr.NewRecognizer(ctx, appCfg.OCRProvider, config.GetOCRConfig(), config.GetTextractConfig())
	if err != nil {
		return Deps{}, nil, fmt.Errorf("failed to initialize OCR: %w", err)
	}

	client, err := llm.NewClient(ctx, appCfg.LLMProvider, config.GetLLMConfig())
	if err != nil {
		return Deps{}, nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	ragCfg := config.GetRAGConfig()
	var index rag.Index
	if ragCfg.Index == "redis" {
		index = rag.NewRedisIndex(config.GetRedisConfig())
	} else {
		index = rag.NewMemoryIndex()
	}
	retriever := rag.NewRetriever(ragCfg, client, index, log)

	stages := pipeline.Stages{
		Detector:   detect.NewDetector(pipeCfg.Detection, log),
		Recognizer: recognizer,
		Retriever:  retriever,
		Extractor:  extract.NewExtractor(client, config.GetLLMConfig(), pipeCfg.VAT.ValidRates, log),
		Reconciler: vat.NewReconciler(vat.Rules{
			ValidRates:       pipeCfg.VAT.ValidRates,
			SnapTolerance:    pipeCfg.VAT.SnapTolerance,
			MaxPlausibleRate: pipeCfg.VAT.MaxPlausibleRate,
			AmountTolerance:  pipeCfg.VAT.AmountTolerance,
		}),
	}

	var dispatch Dispatcher
	if appCfg.ProcessMode == "queue" {
		dispatch = &queueDispatcher{client: queue.NewClient(config.GetRedisConfig())}
		if appCfg.JobStore != "redis" {
			log.Warn("Queue mode with a memory job store: the worker cannot share job state with the server")
		}
	}

	deps := Deps{
		Pipeline:  pipeline.New(stages, config.GetOCRConfig(), pipeCfg.MaxWorkers, log),
		Jobs:      jobs.NewStore(appCfg.JobStore, config.GetRedisConfig()),
		Files:     store.NewFileStore(),
		Results:   store.NewResultStore(objects, log),
		Objects:   objects,
		Retriever: retriever,
		Dispatch:  dispatch,
	}
	cfg := &ServiceConfig{
		MaxFileSize:     appCfg.MaxUploadSizeMB * 1024 * 1024,
		RetentionPeriod: 24 * time.Hour,
	}

	return deps, cfg, nil
}

// GetService wires the full service from environment configuration.
func GetService(ctx context.Context, log logger.Logger) (Service, error) {
	deps, cfg, err := GetDeps(ctx, log)
	if err != nil {
		return nil, err
	}
	return NewService(deps, log, cfg), nil
}

// Upload validates, hashes, and stores one uploaded receipt file.
func (s *ReceiptService) Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*models.StoredFile, error) {
	if header.Size > s.config.MaxFileSize {
		return nil, fmt.Errorf("%w: file size exceeds maximum limit of %d bytes", ErrInvalidUpload, s.config.MaxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return nil, fmt.Errorf("%w: file size exceeds maximum limit of %d bytes", ErrInvalidUpload, s.config.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}

	// The client-supplied extension is ignored; the type is sniffed from
	// the bytes.
	contentType := sniffContentType(data)
	if !ocr.CanLoad(contentType) {
		return nil, fmt.Errorf("%w: unsupported file type: %s", ErrInvalidUpload, contentType)
	}

	sum := sha256.Sum256(data)
	fileID := uuid.New().String()
	key := storage.UploadKey(fileID, extensionFor(contentType))

	if _, err := s.objects.Store(ctx, bytes.NewReader(data), key); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	stored := &models.StoredFile{
		ID:          fileID,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		StorageKey:  key,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.files.SaveFile(ctx, stored); err != nil {
		return nil, err
	}

	s.logger.Info("File uploaded",
		logger.String("fileId", fileID),
		logger.String("filename", header.Filename),
		logger.String("contentType", contentType),
		logger.Int64("size", stored.Size),
	)
	return stored, nil
}

// StartProcessing creates a job for a stored file and dispatches it.
func (s *ReceiptService) StartProcessing(ctx context.Context, fileID string) (*models.ProcessingJob, error) {
	file, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	job := models.NewJob(uuid.New().String(), fileID)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	payload := &queue.ProcessPayload{
		JobID:       job.ID,
		FileID:      fileID,
		StorageKey:  file.StorageKey,
		ContentType: file.ContentType,
	}
	if err := s.dispatch.Dispatch(ctx, payload); err != nil {
		s.failJob(ctx, job.ID, "failed to dispatch processing task")
		return nil, fmt.Errorf("failed to dispatch processing task: %w", err)
	}

	s.logger.Info("Processing job created",
		logger.String("jobId", job.ID),
		logger.String("fileId", fileID),
	)
	return job, nil
}

func (s *ReceiptService) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *ReceiptService) GetResults(ctx context.Context, fileID string) (*models.ProcessingResult, error) {
	return s.results.GetResult(ctx, fileID)
}

// UpdateReceipt applies a manual correction. Reconciliation is not re-run:
// a correction is authoritative even where the arithmetic disagrees. The
// corrected receipt is re-indexed as a user-verified exemplar.
func (s *ReceiptService) UpdateReceipt(ctx context.Context, id string, patch *models.ReceiptPatch) (*models.Receipt, error) {
	if patch == nil {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidUpload)
	}

	updated, err := s.results.UpdateReceipt(ctx, id, func(rec *models.Receipt) {
		applyPatch(rec, patch)
		rec.Modified = true
	})
	if err != nil {
		return nil, err
	}

	if s.retriever != nil && updated.RawText != "" {
		s.retriever.IndexReceipt(ctx, updated.ID, updated.RawText, updated, true)
	}

	s.logger.Info("Receipt updated",
		logger.String("receiptId", id),
	)
	return updated, nil
}

func (s *ReceiptService) ListReceipts(ctx context.Context) ([]*models.Receipt, error) {
	return s.results.ListReceipts(ctx), nil
}

// HandleProcessTask runs one processing job to completion. All failure
// modes mark the job failed and return nil: re-running a deterministic
// failure is pointless, so retries are reserved for worker crashes.
func (s *ReceiptService) HandleProcessTask(ctx context.Context, payload *queue.ProcessPayload) error {
	if payload == nil || payload.JobID == "" || payload.StorageKey == "" {
		return fmt.Errorf("invalid task payload")
	}

	if err := s.jobs.SetRunning(ctx, payload.JobID); err != nil {
		s.logger.Warn("Skipping task for non-runnable job",
			logger.String("jobId", payload.JobID),
			logger.Error(err),
		)
		return nil
	}

	obj, err := s.objects.Get(ctx, payload.StorageKey)
	if err != nil {
		s.failJob(ctx, payload.JobID, "failed to load stored file")
		return nil
	}
	data, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		s.failJob(ctx, payload.JobID, "failed to read stored file")
		return nil
	}

	progress := func(percent int, message string) {
		if err := s.jobs.SetProgress(ctx, payload.JobID, percent); err != nil {
			s.logger.Debug("Progress update dropped",
				logger.String("jobId", payload.JobID),
				logger.Error(err),
			)
		}
	}

	result, err := s.pipeline.Run(ctx, payload.FileID, data, payload.ContentType, progress)
	if err != nil {
		s.failJob(ctx, payload.JobID, err.Error())
		return nil
	}

	if err := s.results.SaveResult(ctx, result); err != nil {
		s.failJob(ctx, payload.JobID, "failed to save results")
		return nil
	}

	if err := s.jobs.SetCompleted(ctx, payload.JobID); err != nil {
		s.logger.Error("Failed to mark job completed",
			logger.String("jobId", payload.JobID),
			logger.Error(err),
		)
	}

	s.logger.Info("Processing job completed",
		logger.String("jobId", payload.JobID),
		logger.String("fileId", payload.FileID),
		logger.Int("receipts", result.ReceiptsExtracted),
	)
	return nil
}

// Cleanup removes uploaded originals older than the retention period.
// Result snapshots are kept.
func (s *ReceiptService) Cleanup(ctx context.Context) error {
	threshold := time.Now().Add(-s.config.RetentionPeriod)
	if err := s.objects.CleanupBefore(ctx, storage.UploadPrefix, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}

	s.logger.Info("Completed uploads cleanup",
		logger.Time("threshold", threshold),
	)
	return nil
}

func (s *ReceiptService) failJob(ctx context.Context, jobID, message string) {
	s.logger.Error("Processing job failed",
		logger.String("jobId", jobID),
		logger.String("reason", message),
	)
	if err := s.jobs.SetFailed(ctx, jobID, message); err != nil {
		s.logger.Error("Failed to mark job failed",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
}

func applyPatch(rec *models.Receipt, patch *models.ReceiptPatch) {
	if patch.MerchantName != nil {
		rec.MerchantName = patch.MerchantName
	}
	if patch.Date != nil {
		rec.Date = patch.Date
	}
	if patch.Currency != nil {
		rec.Currency = vat.NormalizeCurrency(*patch.Currency)
	}
	if patch.Subtotal != nil {
		rec.Subtotal = patch.Subtotal
	}
	if patch.TaxAmount != nil {
		rec.TaxAmount = patch.TaxAmount
	}
	if patch.TotalAmount != nil {
		rec.TotalAmount = patch.TotalAmount
	}
	if patch.PaymentMethod != nil {
		rec.PaymentMethod = patch.PaymentMethod
	}
	if patch.Address != nil {
		rec.Address = patch.Address
	}
	if patch.Phone != nil {
		rec.Phone = patch.Phone
	}
	if patch.Items != nil {
		rec.Items = patch.Items
	}
	if patch.VATBreakdown != nil {
		rec.VATBreakdown = patch.VATBreakdown
	}
}

func sniffContentType(data []byte) string {
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	contentType := http.DetectContentType(sample)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func extensionFor(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tiff"
	default:
		return ".jpg"
	}
}

// inlineDispatcher runs processing in-process. The goroutine detaches
// from the request context, which ends long before processing does.
type inlineDispatcher struct {
	svc *ReceiptService
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, payload *queue.ProcessPayload) error {
	go func() {
		if err := d.svc.HandleProcessTask(context.Background(), payload); err != nil {
			d.svc.logger.Error("Inline processing failed",
				logger.String("jobId", payload.JobID),
				logger.Error(err),
			)
		}
	}()
	return nil
}

// queueDispatcher enqueues work for the worker binary.
type queueDispatcher struct {
	client *queue.Client
}

func (d *queueDispatcher) Dispatch(ctx context.Context, payload *queue.ProcessPayload) error {
	return d.client.EnqueueProcess(ctx, payload)
}
