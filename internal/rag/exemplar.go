package rag

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bonvision/receipt-processor/internal/models"
)

// Sources an exemplar can come from. User-verified extractions rank
// slightly above auto-extracted ones.
const (
	SourceAutoExtracted = "auto-extracted"
	SourceUserVerified  = "user-verified"
)

const (
	// Stored text is capped; beyond this it adds storage, not signal.
	maxExemplarTextRunes = 2000
	// Prompt blocks get a tighter cap so three exemplars leave room
	// for the receipt being extracted.
	maxBlockTextRunes = 600
)

// Exemplar is one previously processed receipt held for few-shot
// retrieval: the raw text we embed and the JSON the pipeline settled
// on for it.
type Exemplar struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	JSON      string    `json:"json"`
	Source    string    `json:"source"`
	Vector    []float32 `json:"vector"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Scored pairs an exemplar with its similarity to a query.
type Scored struct {
	Exemplar
	Similarity float64
}

// exemplarPayload mirrors the JSON shape the extraction prompt asks
// for, so a stored exemplar can be pasted into a prompt verbatim. The
// item and breakdown keys deliberately differ from the storage models.
type exemplarPayload struct {
	MerchantName  *string           `json:"merchant_name"`
	Date          *string           `json:"date"`
	TotalAmount   *float64          `json:"total_amount"`
	TaxAmount     *float64          `json:"tax_amount"`
	Subtotal      *float64          `json:"subtotal"`
	Currency      string            `json:"currency"`
	Items         []exemplarItem    `json:"items"`
	VATBreakdown  []exemplarVATLine `json:"vat_breakdown"`
	PaymentMethod *string           `json:"payment_method,omitempty"`
	Address       *string           `json:"address,omitempty"`
	Phone         *string           `json:"phone,omitempty"`
	VATPercentage *float64          `json:"vat_percentage,omitempty"`
}

type exemplarItem struct {
	Name     string   `json:"name"`
	Quantity float64  `json:"quantity"`
	Price    float64  `json:"price"`
	Total    float64  `json:"total"`
	VATRate  *float64 `json:"vat_rate,omitempty"`
}

type exemplarVATLine struct {
	Rate float64 `json:"rate"`
	Base float64 `json:"base"`
	Tax  float64 `json:"tax"`
}

// NewExemplar builds an indexable exemplar from a finished receipt.
// The caller fills in Vector before adding it to an index.
func NewExemplar(id, text string, rec *models.Receipt, verified bool) (Exemplar, error) {
	payload := exemplarPayload{
		MerchantName:  rec.MerchantName,
		Date:          rec.Date,
		TotalAmount:   rec.TotalAmount,
		TaxAmount:     rec.TaxAmount,
		Subtotal:      rec.Subtotal,
		Currency:      rec.Currency,
		Items:         make([]exemplarItem, 0, len(rec.Items)),
		VATBreakdown:  make([]exemplarVATLine, 0, len(rec.VATBreakdown)),
		PaymentMethod: rec.PaymentMethod,
		Address:       rec.Address,
		Phone:         rec.Phone,
		VATPercentage: rec.VATPercentageEffective,
	}
	for _, it := range rec.Items {
		payload.Items = append(payload.Items, exemplarItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.UnitPrice,
			Total:    it.LineTotal,
			VATRate:  it.VATRate,
		})
	}
	for _, entry := range rec.VATBreakdown {
		payload.VATBreakdown = append(payload.VATBreakdown, exemplarVATLine{
			Rate: entry.Rate,
			Base: entry.BaseAmount,
			Tax:  entry.TaxAmount,
		})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Exemplar{}, fmt.Errorf("failed to marshal exemplar: %w", err)
	}

	source := SourceAutoExtracted
	if verified {
		source = SourceUserVerified
	}
	return Exemplar{
		ID:        id,
		Text:      truncateRunes(strings.TrimSpace(text), maxExemplarTextRunes),
		JSON:      string(data),
		Source:    source,
		IndexedAt: time.Now().UTC(),
	}, nil
}

// BuildExemplarBlock renders retrieved exemplars into the few-shot
// section of an extraction prompt. Returns "" for no matches.
func BuildExemplarBlock(matches []Scored) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("REFERENCE EXAMPLES\n")
	b.WriteString("Below are real receipts that were previously processed successfully.\n")
	b.WriteString("Use them as guidance for format, field names and value styles, but\n")
	b.WriteString("extract data ONLY from the new receipt text that follows them.\n\n")

	for i, m := range matches {
		fmt.Fprintf(&b, "--- Example %d (similarity=%.2f, source=%s) ---\n", i+1, m.Similarity, m.Source)
		if text := truncateRunes(strings.TrimSpace(m.Text), maxBlockTextRunes); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
		b.WriteString("---EXTRACTED_JSON---\n")
		b.WriteString(strings.TrimSpace(m.JSON))
		b.WriteString("\n\n")
	}

	b.WriteString("--- End of examples ---")
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
