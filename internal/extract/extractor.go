// Package extract turns acquired receipt text into structured receipt
// fields by prompting a generative model and mapping its answer onto the
// domain model. Every failure mode degrades to a null receipt with a
// warning; extraction never fails a job.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/llm"
	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/internal/vat"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

// Generator produces model text for a prompt. Concrete implementations
// live in internal/llm.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Extractor prompts a Generator and maps the response onto a Receipt.
type Extractor struct {
	gen     Generator
	timeout time.Duration
	rates   []float64
	log     logger.Logger
}

// NewExtractor wires a generator with the model timeout and the VAT rates
// the prompt advertises as valid.
func NewExtractor(gen Generator, cfg *config.LLMConfig, rates []float64, log logger.Logger) *Extractor {
	return &Extractor{
		gen:     gen,
		timeout: cfg.Timeout,
		rates:   rates,
		log:     log,
	}
}

// Extract prompts the model with the receipt text plus an optional exemplar
// block and returns the mapped receipt. The boolean reports whether the
// model produced a parseable candidate.
func (e *Extractor) Extract(ctx context.Context, fileID, text, examples string) (*models.Receipt, bool) {
	prompt, err := llm.BuildPrompt(text, examples, e.rates)
	if err != nil {
		e.log.Error("prompt build failed", logger.Error(err))
		return models.NullReceipt(fileID, "extraction failed: prompt could not be built"), false
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.GenerateText(genCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("model generation timed out",
				logger.Duration("timeout", e.timeout))
			return models.NullReceipt(fileID, "extraction failed: model timed out"), false
		}
		e.log.Warn("model generation failed", logger.Error(err))
		return models.NullReceipt(fileID, "extraction failed: model unavailable"), false
	}

	cand, demoted, err := llm.DecodeCandidate(raw)
	if err != nil {
		e.log.Warn("model response not parseable",
			logger.Int("response_length", len(raw)), logger.Error(err))
		return models.NullReceipt(fileID, "extraction failed: model response was not parseable"), false
	}

	rec := mapCandidate(fileID, cand)
	for _, field := range demoted {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("field %s ignored, schema violation", field))
	}
	return rec, true
}

// mapCandidate applies the normalization rules while moving tolerant
// candidate fields onto the domain model: amounts rounded to cents,
// currency whitelisted, vat_amount accepted as an alias for tax_amount,
// text fields trimmed with empty meaning absent. The candidate's own
// vat_percentage claim is ignored; the effective rate is always derived
// during reconciliation.
func mapCandidate(fileID string, c *llm.Candidate) *models.Receipt {
	rec := models.NullReceipt(fileID)

	rec.MerchantName = cleanString(c.MerchantName)
	rec.Date = cleanString(c.Date)
	rec.PaymentMethod = cleanString(c.PaymentMethod)
	rec.Address = cleanString(c.Address)
	rec.Phone = cleanString(c.Phone)

	if c.Currency != nil {
		rec.Currency = vat.NormalizeCurrency(*c.Currency)
	}

	rec.TotalAmount = roundedPtr(c.TotalAmount)
	rec.Subtotal = roundedPtr(c.Subtotal)

	tax := c.TaxAmount
	if !tax.Valid {
		tax = c.VATAmount
	}
	rec.TaxAmount = roundedPtr(tax)

	rec.Items = mapItems(c.Items)
	rec.VATBreakdown = mapBreakdown(c.VATBreakdown)
	return rec
}

func mapItems(items llm.ItemList) []models.ReceiptItem {
	out := make([]models.ReceiptItem, 0, len(items))
	for _, it := range items {
		if !it.Name.Valid && !it.Total.Valid && !it.Price.Valid {
			continue
		}
		item := models.ReceiptItem{
			Name:    strings.TrimSpace(it.Name.Value),
			VATRate: it.VATRate.Ptr(),
		}
		if it.Quantity.Valid {
			item.Quantity = vat.Round2(it.Quantity.Value)
		}
		if it.Price.Valid {
			item.UnitPrice = vat.Round2(it.Price.Value)
		}
		switch {
		case it.Total.Valid:
			item.LineTotal = vat.Round2(it.Total.Value)
		case it.Price.Valid && it.Quantity.Valid:
			item.LineTotal = vat.Round2(it.Price.Value * it.Quantity.Value)
		}
		out = append(out, item)
	}
	return out
}

func mapBreakdown(lines llm.VATLineList) []models.VATEntry {
	out := make([]models.VATEntry, 0, len(lines))
	for _, l := range lines {
		if !l.Rate.Valid {
			continue
		}
		entry := models.VATEntry{Rate: l.Rate.Value}
		if l.Base.Valid {
			entry.BaseAmount = vat.Round2(l.Base.Value)
		}
		if l.Tax.Valid {
			entry.TaxAmount = vat.Round2(l.Tax.Value)
		}
		out = append(out, entry)
	}
	return out
}

func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func roundedPtr(n llm.Number) *float64 {
	if !n.Valid {
		return nil
	}
	v := vat.Round2(n.Value)
	return &v
}
