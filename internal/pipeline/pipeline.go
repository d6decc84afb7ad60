// Package pipeline wires the processing stages for one document: page
// loading, region detection, text acquisition, exemplar retrieval, field
// extraction and VAT reconciliation. Receipt-level failures surface as
// null receipts with warnings; only an unreadable document fails a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/detect"
	"github.com/bonvision/receipt-processor/internal/extract"
	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/ocr"
	"github.com/bonvision/receipt-processor/internal/rag"
	"github.com/bonvision/receipt-processor/internal/vat"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

// ProgressFunc receives a 0-100 percentage and a short stage description.
// It may be called from multiple goroutines; the job store serializes and
// clamps updates, so reports only ever need to be best-effort.
type ProgressFunc func(percent int, message string)

// Stages bundles the five processing stages in flow order.
type Stages struct {
	Detector   *detect.Detector
	Recognizer ocr.Recognizer
	Retriever  *rag.Retriever
	Extractor  *extract.Extractor
	Reconciler *vat.Reconciler
}

// Pipeline runs whole documents through the stages.
type Pipeline struct {
	stages     Stages
	ocrCfg     *config.OCRConfig
	maxWorkers int
	log        logger.Logger
}

func New(stages Stages, ocrCfg *config.OCRConfig, maxWorkers int, log logger.Logger) *Pipeline {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pipeline{
		stages:     stages,
		ocrCfg:     ocrCfg,
		maxWorkers: maxWorkers,
		log:        log,
	}
}

// regionOutcome is the per-region record Run assembles results from.
type regionOutcome struct {
	receipt   *models.Receipt
	text      string
	extracted bool
	reason    string
}

// Run processes one document and returns every receipt it could produce,
// one per detected region, in page order. Pages run sequentially; regions
// within a page run concurrently under the worker limit.
func (p *Pipeline) Run(ctx context.Context, fileID string, data []byte, contentType string, progress ProgressFunc) (*models.ProcessingResult, error) {
	start := time.Now()
	report := func(pct int, msg string) {
		if progress != nil {
			progress(pct, msg)
		}
	}

	report(5, "Loading document")
	pages, err := ocr.LoadDocument(data, contentType, p.ocrCfg)
	if err != nil {
		return nil, err
	}
	p.log.Info("document loaded",
		logger.String("file_id", fileID),
		logger.String("content_type", contentType),
		logger.Int("pages", len(pages)))

	result := &models.ProcessingResult{
		FileID:         fileID,
		PagesProcessed: len(pages),
		Receipts:       []*models.Receipt{},
		PageStats:      []models.PageStats{},
	}
	tracker := &progressTracker{report: report, estimate: len(pages) * 2}

	var outcomes []regionOutcome
	for i, page := range pages {
		report(10+i*30/len(pages), fmt.Sprintf("Processing page %d/%d", page.Number, len(pages)))

		pageOutcomes, stat, err := p.processPage(ctx, fileID, page, len(outcomes), len(pages)-i-1, tracker)
		if err != nil {
			return nil, err
		}

		for _, out := range pageOutcomes {
			rec := out.receipt
			rec.ID = uuid.NewString()
			rec.ReceiptNumber = len(outcomes) + 1
			rec.RawText = out.text
			result.Receipts = append(result.Receipts, rec)
			outcomes = append(outcomes, out)

			if out.extracted {
				stat.Successful++
			} else {
				stat.Rejected++
				stat.RejectionReasons = append(stat.RejectionReasons,
					fmt.Sprintf("receipt %d: %s", rec.ReceiptNumber, out.reason))
			}
		}
		result.PageStats = append(result.PageStats, stat)

		p.log.Info("page finished",
			logger.Int("page", page.Number),
			logger.Int("detected", stat.Detected),
			logger.Int("successful", stat.Successful),
			logger.Int("rejected", stat.Rejected))
	}

	for _, s := range result.PageStats {
		result.ReceiptsDetected += s.Detected
		result.ReceiptsExtracted += s.Successful
	}
	if result.ReceiptsDetected > result.ReceiptsExtracted {
		result.MissingReceiptsEstimate = result.ReceiptsDetected - result.ReceiptsExtracted
		result.DetectionWarning = true
	}
	result.ProcessedAt = time.Now().UTC()

	report(95, "Indexing extracted receipts")
	p.indexOutcomes(ctx, outcomes)

	p.log.Info("document processing finished",
		logger.String("file_id", fileID),
		logger.Int("pages", result.PagesProcessed),
		logger.Int("detected", result.ReceiptsDetected),
		logger.Int("extracted", result.ReceiptsExtracted),
		logger.Duration("took", time.Since(start)))
	report(100, fmt.Sprintf("Processing completed, extracted %d receipt(s)", result.ReceiptsExtracted))
	return result, nil
}

// processPage yields one outcome per region of the page, in region order.
func (p *Pipeline) processPage(ctx context.Context, fileID string, page ocr.Page, numberOffset, pagesLeft int, tracker *progressTracker) ([]regionOutcome, models.PageStats, error) {
	stat := models.PageStats{PageNumber: page.Number}

	if page.HasText() {
		// Born-digital page: the text layer is the single receipt, no
		// detection or recognition involved.
		stat.Detected = 1
		tracker.pageDetected(1, pagesLeft)
		tracker.startReceipt(numberOffset + 1)
		return []regionOutcome{p.processText(ctx, fileID, page.Text)}, stat, nil
	}

	det := p.stages.Detector.Detect(page.Image)
	stat.Detected = len(det.Regions)
	stat.RejectionReasons = append(stat.RejectionReasons, det.RejectionReasons...)
	if det.Fallback {
		p.log.Info("detection fell back to the full page", logger.Int("page", page.Number))
	}
	tracker.pageDetected(len(det.Regions), pagesLeft)

	outcomes := make([]regionOutcome, len(det.Regions))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.maxWorkers)
	for i, region := range det.Regions {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			tracker.startReceipt(numberOffset + i + 1)
			outcomes[i] = p.processRegion(gctx, fileID, region.Image)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stat, err
	}
	return outcomes, stat, nil
}

func (p *Pipeline) processRegion(ctx context.Context, fileID string, img image.Image) regionOutcome {
	text, err := ocr.AcquireText(ctx, p.stages.Recognizer, img, p.ocrCfg.MinTextLength)
	if err != nil {
		if errors.Is(err, ocr.ErrInsufficientText) {
			p.log.Warn("region produced too little text", logger.String("file_id", fileID))
			return regionOutcome{
				receipt: models.NullReceipt(fileID, "no usable text recognized in this region"),
				reason:  "insufficient text",
			}
		}
		p.log.Warn("text recognition failed", logger.String("file_id", fileID), logger.Error(err))
		return regionOutcome{
			receipt: models.NullReceipt(fileID, "text recognition failed"),
			reason:  "recognition error",
		}
	}
	return p.processText(ctx, fileID, text)
}

func (p *Pipeline) processText(ctx context.Context, fileID, text string) regionOutcome {
	matches := p.stages.Retriever.Retrieve(ctx, text)
	examples := rag.BuildExemplarBlock(matches)

	rec, extracted := p.stages.Extractor.Extract(ctx, fileID, text, examples)
	p.stages.Reconciler.Reconcile(rec)
	rec.ConfidenceScore = confidenceScore(rec, extracted, text)

	out := regionOutcome{receipt: rec, text: text, extracted: extracted}
	if !extracted {
		out.reason = "field extraction failed"
	}
	return out
}

// indexOutcomes feeds successfully extracted receipts back into the
// retriever so later documents benefit from them. Receipts carrying
// neither a merchant nor a total teach the model nothing and stay out.
func (p *Pipeline) indexOutcomes(ctx context.Context, outcomes []regionOutcome) {
	for _, out := range outcomes {
		if !out.extracted {
			continue
		}
		rec := out.receipt
		if rec.MerchantName == nil && rec.TotalAmount == nil {
			continue
		}
		p.stages.Retriever.IndexReceipt(ctx, rec.ID, out.text, rec, false)
	}
}
