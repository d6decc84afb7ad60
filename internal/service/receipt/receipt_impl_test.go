package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/detect"
	"github.com/bonvision/receipt-processor/internal/extract"
	"github.com/bonvision/receipt-processor/internal/jobs"
	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/pipeline"
	"github.com/bonvision/receipt-processor/internal/rag"
	"github.com/bonvision/receipt-processor/internal/store"
	"github.com/bonvision/receipt-processor/internal/vat"
	"github.com/bonvision/receipt-processor/pkg/logger"
	"github.com/bonvision/receipt-processor/pkg/queue"
	"github.com/bonvision/receipt-processor/pkg/storage"
)

const recognizedText = "JUMBO Amsterdam\nBrood 2,50\nWijn 7,50\nSubtotaal 10,00\nBTW 21% 2,10\nTotaal 12,10\nBetaald: PIN"

const generatedJSON = `{
  "merchant_name": "Jumbo",
  "date": "15-01-2024",
  "total_amount": 12.10,
  "tax_amount": 2.10,
  "subtotal": 10.00,
  "currency": "EUR",
  "payment_method": "PIN",
  "items": [
    {"name": "Brood", "quantity": 1, "price": 2.50, "total": 2.50, "vat_rate": 21},
    {"name": "Wijn", "quantity": 1, "price": 7.50, "total": 7.50, "vat_rate": 21}
  ],
  "vat_breakdown": [
    {"rate": 21, "base": 10.00, "tax": 2.10}
  ]
}`

type stubRecognizer struct {
	text string
	err  error
}

func (s *stubRecognizer) RecognizeText(ctx context.Context, img image.Image) (string, error) {
	return s.text, s.err
}

type stubGenerator struct {
	mu       sync.Mutex
	response string
	err      error
}

func (s *stubGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response, s.err
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type memObjects struct {
	mu      sync.Mutex
	data    map[string][]byte
	cleaned []string
}

var _ storage.Storage = (*memObjects)(nil)

func newMemObjects() *memObjects {
	return &memObjects{data: make(map[string][]byte)}
}

func (m *memObjects) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return key, nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, errors.New("object does not exist")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memObjects) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, prefix)
	return nil
}

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		MinAreaRatio:    0.02,
		MaxAreaRatio:    0.95,
		MinAspect:       1.0,
		NearSquareArea:  0.25,
		NearSquareRatio: 0.75,
		IoUThreshold:    0.3,
		MinRegionWidth:  80,
		MinRegionHeight: 120,
		BlurSigma:       1.0,
		ThresholdBlock:  35,
		ThresholdC:      10,
		CloseKernelW:    25,
		CloseKernelH:    45,
		OpenKernel:      5,
		EdgeThreshold:   128,
	}
}

type testEnv struct {
	svc     Service
	objects *memObjects
	jobs    jobs.Store
	index   *rag.MemoryIndex
	log     *logger.TestLogger
}

func newTestEnv(rec *stubRecognizer, gen *stubGenerator) *testEnv {
	log := logger.NewTestLogger()
	objects := newMemObjects()
	index := rag.NewMemoryIndex()

	ragCfg := &config.RAGConfig{
		Enabled:       true,
		TopK:          3,
		MinSimilarity: 0.55,
		VerifiedBoost: 0.05,
	}
	retriever := rag.NewRetriever(ragCfg, fixedEmbedder{}, index, log)
	rates := []float64{0, 9, 21}

	stages := pipeline.Stages{
		Detector:   detect.NewDetector(testDetectionConfig(), log),
		Recognizer: rec,
		Retriever:  retriever,
		Extractor:  extract.NewExtractor(gen, &config.LLMConfig{Timeout: 5 * time.Second}, rates, log),
		Reconciler: vat.NewReconciler(vat.DefaultRules()),
	}
	ocrCfg := &config.OCRConfig{
		TesseractLangs:   []string{"nld", "eng"},
		PDFTextThreshold: 40,
		MinTextLength:    10,
		RasterDPI:        150,
	}

	jobStore := jobs.NewMemoryStore()
	deps := Deps{
		Pipeline:  pipeline.New(stages, ocrCfg, 2, log),
		Jobs:      jobStore,
		Files:     store.NewFileStore(),
		Results:   store.NewResultStore(objects, log),
		Objects:   objects,
		Retriever: retriever,
	}
	cfg := &ServiceConfig{
		MaxFileSize:     5 * 1024 * 1024,
		RetentionPeriod: time.Hour,
	}
	return &testEnv{
		svc:     NewService(deps, log, cfg),
		objects: objects,
		jobs:    jobStore,
		index:   index,
		log:     log,
	}
}

func blankPage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func makeUpload(t *testing.T, name string, data []byte) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	headers := form.File["file"]
	require.Len(t, headers, 1)
	f, err := headers[0].Open()
	require.NoError(t, err)
	return f, headers[0]
}

func completeUpload(t *testing.T, env *testEnv) *models.StoredFile {
	t.Helper()
	f, header := makeUpload(t, "bonnetje.png", blankPage(t))
	defer f.Close()

	stored, err := env.svc.Upload(context.Background(), f, header)
	require.NoError(t, err)
	return stored
}

func waitForTerminal(t *testing.T, env *testEnv, jobID string) *models.ProcessingJob {
	t.Helper()
	var job *models.ProcessingJob
	require.Eventually(t, func() bool {
		var err error
		job, err = env.jobs.Get(context.Background(), jobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestUpload_StoresFileAndMetadata(t *testing.T) {
	env := newTestEnv(&stubRecognizer{text: recognizedText}, &stubGenerator{response: generatedJSON})

	stored := completeUpload(t, env)

	assert.Equal(t, "bonnetje.png", stored.Filename)
	assert.Equal(t, "image/png", stored.ContentType)
	assert.Len(t, stored.Hash, 64)
	assert.Equal(t, "uploads/"+stored.ID+".png", stored.StorageKey)
	assert.True(t, env.objects.has(stored.StorageKey))
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})
	svc := env.svc.(*ReceiptService)
	svc.config.MaxFileSize = 64

	f, header := makeUpload(t, "big.png", blankPage(t))
	defer f.Close()

	_, err := env.svc.Upload(context.Background(), f, header)
	assert.ErrorIs(t, err, ErrInvalidUpload)
	assert.ErrorContains(t, err, "exceeds maximum limit")
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	f, header := makeUpload(t, "notes.txt", []byte("these are not receipt bytes"))
	defer f.Close()

	_, err := env.svc.Upload(context.Background(), f, header)
	assert.ErrorIs(t, err, ErrInvalidUpload)
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestStartProcessing_UnknownFile(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	_, err := env.svc.StartProcessing(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessing_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(&stubRecognizer{text: recognizedText}, &stubGenerator{response: generatedJSON})
	stored := completeUpload(t, env)

	job, err := env.svc.StartProcessing(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	final := waitForTerminal(t, env, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.Error)

	result, err := env.svc.GetResults(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReceiptsExtracted)
	require.Len(t, result.Receipts, 1)

	rec := result.Receipts[0]
	require.NotNil(t, rec.MerchantName)
	assert.Equal(t, "Jumbo", *rec.MerchantName)
	assert.Equal(t, recognizedText, rec.RawText)

	// The result snapshot is durable in object storage.
	assert.True(t, env.objects.has(storage.ResultKey(stored.ID)))

	// The extracted receipt became an exemplar for future prompts.
	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateReceipt_PatchesAndReindexes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(&stubRecognizer{text: recognizedText}, &stubGenerator{response: generatedJSON})
	stored := completeUpload(t, env)

	job, err := env.svc.StartProcessing(ctx, stored.ID)
	require.NoError(t, err)
	waitForTerminal(t, env, job.ID)

	result, err := env.svc.GetResults(ctx, stored.ID)
	require.NoError(t, err)
	recID := result.Receipts[0].ID

	merchant := "Jumbo Amsterdam Centraal"
	total := 12.15
	updated, err := env.svc.UpdateReceipt(ctx, recID, &models.ReceiptPatch{
		MerchantName: &merchant,
		TotalAmount:  &total,
	})
	require.NoError(t, err)
	assert.True(t, updated.Modified)
	assert.Equal(t, merchant, *updated.MerchantName)
	assert.Equal(t, total, *updated.TotalAmount)
	// Untouched fields survive the patch.
	require.NotNil(t, updated.Date)
	assert.Equal(t, "15-01-2024", *updated.Date)

	receipts, err := env.svc.ListReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, merchant, *receipts[0].MerchantName)

	// Re-indexing replaces the exemplar instead of duplicating it.
	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateReceipt_Unknown(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	merchant := "Lidl"
	_, err := env.svc.UpdateReceipt(context.Background(), "missing", &models.ReceiptPatch{MerchantName: &merchant})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetResults_Unknown(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	_, err := env.svc.GetResults(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleProcessTask_InvalidPayload(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	err := env.svc.HandleProcessTask(context.Background(), &queue.ProcessPayload{})
	assert.ErrorContains(t, err, "invalid task payload")
}

func TestHandleProcessTask_MissingObjectFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	job := models.NewJob("job-1", "file-1")
	require.NoError(t, env.jobs.Create(ctx, job))

	err := env.svc.HandleProcessTask(ctx, &queue.ProcessPayload{
		JobID:       "job-1",
		FileID:      "file-1",
		StorageKey:  "uploads/file-1.png",
		ContentType: "image/png",
	})
	require.NoError(t, err)

	failed, err := env.jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "failed to load stored file", failed.Error)
}

func TestHandleProcessTask_UnreadableDocumentFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	_, err := env.objects.Store(ctx, bytes.NewReader([]byte("not an image")), "uploads/file-1.png")
	require.NoError(t, err)
	require.NoError(t, env.jobs.Create(ctx, models.NewJob("job-1", "file-1")))

	err = env.svc.HandleProcessTask(ctx, &queue.ProcessPayload{
		JobID:       "job-1",
		FileID:      "file-1",
		StorageKey:  "uploads/file-1.png",
		ContentType: "image/png",
	})
	require.NoError(t, err)

	failed, err := env.jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
}

func TestCleanup_TargetsUploadsOnly(t *testing.T) {
	env := newTestEnv(&stubRecognizer{}, &stubGenerator{})

	require.NoError(t, env.svc.Cleanup(context.Background()))
	assert.Equal(t, []string{storage.UploadPrefix}, env.objects.cleaned)
}

func TestSniffContentType(t *testing.T) {
	assert.Equal(t, "image/png", sniffContentType(blankPage(t)))
	assert.Equal(t, "application/pdf", sniffContentType([]byte("%PDF-1.7 rest of file")))
	assert.Equal(t, "text/plain", sniffContentType([]byte("hello world")))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".pdf", extensionFor("application/pdf"))
	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".tiff", extensionFor("image/tiff"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
}
