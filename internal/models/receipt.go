package models

import (
	"time"
)

// VATEntry is one row of a receipt's per-rate tax decomposition.
// Rate is a percentage (21 means 21%), amounts are currency units.
type VATEntry struct {
	Rate       float64 `json:"rate"`
	BaseAmount float64 `json:"base_amount"`
	TaxAmount  float64 `json:"tax_amount"`
}

// ReceiptItem is a single extracted line item.
type ReceiptItem struct {
	Name      string   `json:"name"`
	Quantity  float64  `json:"quantity"`
	UnitPrice float64  `json:"unit_price"`
	LineTotal float64  `json:"line_total"`
	VATRate   *float64 `json:"vat_rate"`
}

// Receipt is a finalized extraction result. Header amounts are pointers:
// nil means the field could not be extracted, which is distinct from zero.
type Receipt struct {
	ID                     string        `json:"id"`
	FileID                 string        `json:"file_id"`
	MerchantName           *string       `json:"merchant_name"`
	Date                   *string       `json:"date"`
	Currency               string        `json:"currency"`
	Subtotal               *float64      `json:"subtotal"`
	TaxAmount              *float64      `json:"tax_amount"`
	TotalAmount            *float64      `json:"total_amount"`
	VATPercentageEffective *float64      `json:"vat_percentage_effective"`
	VATBreakdown           []VATEntry    `json:"vat_breakdown"`
	Items                  []ReceiptItem `json:"items"`
	PaymentMethod          *string       `json:"payment_method"`
	Address                *string       `json:"address"`
	Phone                  *string       `json:"phone"`
	ReceiptNumber          int           `json:"receipt_number"`
	RawText                string        `json:"raw_text,omitempty"`
	ConfidenceScore        float64       `json:"confidence_score"`
	Warnings               []string      `json:"warnings,omitempty"`
	Modified               bool          `json:"modified"`
	ExtractedAt            time.Time     `json:"extracted_at"`
}

// PageStats summarizes detection outcomes for a single page.
type PageStats struct {
	PageNumber       int      `json:"page_number"`
	Detected         int      `json:"detected"`
	Successful       int      `json:"successful"`
	Rejected         int      `json:"rejected"`
	RejectionReasons []string `json:"rejection_reasons"`
}

// ProcessingResult holds every receipt produced from one file plus the
// statistics that quantify the gap between detected and extracted.
type ProcessingResult struct {
	FileID                  string      `json:"file_id"`
	Receipts                []*Receipt  `json:"receipts"`
	PagesProcessed          int         `json:"pages_processed"`
	ReceiptsDetected        int         `json:"receipts_detected"`
	ReceiptsExtracted       int         `json:"receipts_extracted"`
	MissingReceiptsEstimate int         `json:"missing_receipts_estimate"`
	DetectionWarning        bool        `json:"detection_warning"`
	PageStats               []PageStats `json:"page_stats"`
	ProcessedAt             time.Time   `json:"processed_at"`
}

// ReceiptPatch is a manual correction to an extracted receipt. Only
// non-nil fields are applied; a non-nil slice replaces the stored one.
type ReceiptPatch struct {
	MerchantName  *string       `json:"merchant_name"`
	Date          *string       `json:"date"`
	Currency      *string       `json:"currency"`
	Subtotal      *float64      `json:"subtotal"`
	TaxAmount     *float64      `json:"tax_amount"`
	TotalAmount   *float64      `json:"total_amount"`
	PaymentMethod *string       `json:"payment_method"`
	Address       *string       `json:"address"`
	Phone         *string       `json:"phone"`
	Items         []ReceiptItem `json:"items"`
	VATBreakdown  []VATEntry    `json:"vat_breakdown"`
}

// StoredFile describes one uploaded artifact. Immutable once stored.
type StoredFile struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	StorageKey  string    `json:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// NullReceipt returns a receipt with all extraction fields null, used when
// text acquisition or field extraction failed for a region. The pipeline
// persists these instead of dropping the region so counts stay honest.
func NullReceipt(fileID string, warnings ...string) *Receipt {
	return &Receipt{
		FileID:       fileID,
		Currency:     "EUR",
		VATBreakdown: []VATEntry{},
		Items:        []ReceiptItem{},
		Warnings:     warnings,
		ExtractedAt:  time.Now().UTC(),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy. Pointer fields are re-boxed so the copy can
// be mutated without touching the original.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	out.MerchantName = clonePtr(r.MerchantName)
	out.Date = clonePtr(r.Date)
	out.Subtotal = clonePtr(r.Subtotal)
	out.TaxAmount = clonePtr(r.TaxAmount)
	out.TotalAmount = clonePtr(r.TotalAmount)
	out.VATPercentageEffective = clonePtr(r.VATPercentageEffective)
	out.PaymentMethod = clonePtr(r.PaymentMethod)
	out.Address = clonePtr(r.Address)
	out.Phone = clonePtr(r.Phone)
	if r.VATBreakdown != nil {
		out.VATBreakdown = append([]VATEntry{}, r.VATBreakdown...)
	}
	if r.Items != nil {
		out.Items = make([]ReceiptItem, len(r.Items))
		for i, it := range r.Items {
			it.VATRate = clonePtr(it.VATRate)
			out.Items[i] = it
		}
	}
	if r.Warnings != nil {
		out.Warnings = append([]string{}, r.Warnings...)
	}
	return &out
}

// Clone returns a deep copy of the result and every receipt in it.
func (p *ProcessingResult) Clone() *ProcessingResult {
	if p == nil {
		return nil
	}
	out := *p
	if p.Receipts != nil {
		out.Receipts = make([]*Receipt, len(p.Receipts))
		for i, rec := range p.Receipts {
			out.Receipts[i] = rec.Clone()
		}
	}
	if p.PageStats != nil {
		out.PageStats = make([]PageStats, len(p.PageStats))
		for i, ps := range p.PageStats {
			if ps.RejectionReasons != nil {
				ps.RejectionReasons = append([]string{}, ps.RejectionReasons...)
			}
			out.PageStats[i] = ps
		}
	}
	return &out
}
