package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/llm"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

type stubGenerator struct {
	response string
	err      error
	prompt   string
}

func (s *stubGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

type slowGenerator struct{}

func (slowGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testExtractor(gen Generator) *Extractor {
	cfg := &config.LLMConfig{Timeout: 5 * time.Second}
	return NewExtractor(gen, cfg, []float64{0, 9, 21}, logger.NewTestLogger())
}

const modelResponse = `{
  "merchant_name": "  Albert Heijn  ",
  "date": "15-01-2024",
  "total_amount": 9.72,
  "tax_amount": null,
  "vat_amount": 1.68,
  "subtotal": 8.04,
  "currency": "€",
  "vat_percentage": 21.0,
  "payment_method": "PIN",
  "address": "Koningsplein 1, Amsterdam",
  "phone": null,
  "items": [
    {"name": "Melk", "quantity": 2, "price": 1.25, "total": 2.50, "vat_rate": 9},
    {"name": "Kaas", "quantity": 1, "price": 5.54, "vat_rate": 9},
    {"name": "", "quantity": null, "price": null, "total": null, "vat_rate": null}
  ],
  "vat_breakdown": [
    {"rate": 9, "base": 8.04, "tax": 0.72}
  ]
}`

func TestExtract_MapsCandidateOntoReceipt(t *testing.T) {
	gen := &stubGenerator{response: modelResponse}

	rec, ok := testExtractor(gen).Extract(context.Background(), "file-1", "AH bon tekst", "")

	require.True(t, ok)
	require.NotNil(t, rec)
	assert.Equal(t, "file-1", rec.FileID)

	require.NotNil(t, rec.MerchantName)
	assert.Equal(t, "Albert Heijn", *rec.MerchantName)
	require.NotNil(t, rec.Date)
	assert.Equal(t, "15-01-2024", *rec.Date)
	assert.Equal(t, "EUR", rec.Currency)

	require.NotNil(t, rec.TotalAmount)
	assert.Equal(t, 9.72, *rec.TotalAmount)
	require.NotNil(t, rec.Subtotal)
	assert.Equal(t, 8.04, *rec.Subtotal)

	// tax_amount was null; the vat_amount alias fills it.
	require.NotNil(t, rec.TaxAmount)
	assert.Equal(t, 1.68, *rec.TaxAmount)

	// The model's own vat_percentage claim is never copied.
	assert.Nil(t, rec.VATPercentageEffective)

	require.Len(t, rec.Items, 2)
	assert.Equal(t, "Melk", rec.Items[0].Name)
	assert.Equal(t, 2.0, rec.Items[0].Quantity)
	assert.Equal(t, 1.25, rec.Items[0].UnitPrice)
	assert.Equal(t, 2.50, rec.Items[0].LineTotal)
	require.NotNil(t, rec.Items[0].VATRate)
	assert.Equal(t, 9.0, *rec.Items[0].VATRate)

	// Missing line total falls back to price times quantity.
	assert.Equal(t, 5.54, rec.Items[1].LineTotal)

	require.Len(t, rec.VATBreakdown, 1)
	assert.Equal(t, 9.0, rec.VATBreakdown[0].Rate)
	assert.Equal(t, 8.04, rec.VATBreakdown[0].BaseAmount)
	assert.Equal(t, 0.72, rec.VATBreakdown[0].TaxAmount)

	assert.Empty(t, rec.Warnings)
}

func TestExtract_PromptCarriesTextAndExamples(t *testing.T) {
	gen := &stubGenerator{response: modelResponse}
	examples := "REFERENCE EXAMPLES\n--- Example 1 (similarity=0.87, source=user-verified) ---"

	_, ok := testExtractor(gen).Extract(context.Background(), "file-1", "JUMBO Totaal 4,50", examples)

	require.True(t, ok)
	assert.Contains(t, gen.prompt, "JUMBO Totaal 4,50")
	assert.Contains(t, gen.prompt, "REFERENCE EXAMPLES")
	assert.Contains(t, gen.prompt, "0%, 9% and 21%")
}

func TestExtract_ModelUnavailable(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	log := logger.NewTestLogger()
	ext := NewExtractor(gen, &config.LLMConfig{Timeout: time.Second}, []float64{0, 9, 21}, log)

	rec, ok := ext.Extract(context.Background(), "file-1", "some receipt text", "")

	assert.False(t, ok)
	require.NotNil(t, rec)
	assert.Nil(t, rec.MerchantName)
	assert.Nil(t, rec.TotalAmount)
	assert.Contains(t, rec.Warnings, "extraction failed: model unavailable")
	assert.True(t, log.HasMessage("WARN", "model generation failed"))
}

func TestExtract_Timeout(t *testing.T) {
	ext := NewExtractor(slowGenerator{}, &config.LLMConfig{Timeout: 20 * time.Millisecond},
		[]float64{0, 9, 21}, logger.NewTestLogger())

	start := time.Now()
	rec, ok := ext.Extract(context.Background(), "file-1", "some receipt text", "")

	assert.False(t, ok)
	assert.Contains(t, rec.Warnings, "extraction failed: model timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtract_UnparseableResponse(t *testing.T) {
	gen := &stubGenerator{response: "Sorry, I cannot read this receipt."}

	rec, ok := testExtractor(gen).Extract(context.Background(), "file-1", "some receipt text", "")

	assert.False(t, ok)
	assert.Contains(t, rec.Warnings, "extraction failed: model response was not parseable")
}

func TestExtract_SchemaViolationBecomesWarning(t *testing.T) {
	gen := &stubGenerator{response: `{"merchant_name": 12345, "total_amount": 9.99}`}

	rec, ok := testExtractor(gen).Extract(context.Background(), "file-1", "some receipt text", "")

	require.True(t, ok)
	assert.Nil(t, rec.MerchantName)
	require.NotNil(t, rec.TotalAmount)
	assert.Equal(t, 9.99, *rec.TotalAmount)
	assert.Contains(t, rec.Warnings, "field merchant_name ignored, schema violation")
}

func TestExtract_QuotedDecimalCommaAmounts(t *testing.T) {
	gen := &stubGenerator{response: `{"merchant_name": "Plus", "total_amount": "12,50", "tax_amount": "€2,17"}`}

	rec, ok := testExtractor(gen).Extract(context.Background(), "file-1", "some receipt text", "")

	require.True(t, ok)
	require.NotNil(t, rec.TotalAmount)
	assert.Equal(t, 12.50, *rec.TotalAmount)
	require.NotNil(t, rec.TaxAmount)
	assert.Equal(t, 2.17, *rec.TaxAmount)
}

func TestMapItems_SkipsEmptyAndKeepsNameless(t *testing.T) {
	var items llm.ItemList
	require.NoError(t, items.UnmarshalJSON([]byte(`[
		{"name": null, "total": 3.20, "vat_rate": 21},
		{"name": "  ", "quantity": null, "price": null, "total": null}
	]`)))

	mapped := mapItems(items)

	// An amount without a name still feeds rate aggregation; a fully empty
	// entry does not survive.
	require.Len(t, mapped, 1)
	assert.Equal(t, "", mapped[0].Name)
	assert.Equal(t, 3.20, mapped[0].LineTotal)
}

func TestMapBreakdown_DropsRatelessEntries(t *testing.T) {
	var lines llm.VATLineList
	require.NoError(t, lines.UnmarshalJSON([]byte(`[
		{"rate": null, "base": 5.00, "tax": 0.45},
		{"rate": 21, "base": "10,00", "tax": 2.10}
	]`)))

	mapped := mapBreakdown(lines)

	require.Len(t, mapped, 1)
	assert.Equal(t, 21.0, mapped[0].Rate)
	assert.Equal(t, 10.0, mapped[0].BaseAmount)
	assert.Equal(t, 2.1, mapped[0].TaxAmount)
}
