// Package converters renders extracted receipts into downloadable export
// formats. All formats share one row layout, so a CSV and an XLSX export
// of the same receipts carry identical values.
package converters

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bonvision/receipt-processor/internal/models"
)

// ErrUnsupportedFormat reports an export format with no converter.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Converter renders receipts into one export format.
type Converter interface {
	Convert(receipts []*models.Receipt) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat returns the converter for a format name.
func ForFormat(format string) (Converter, error) {
	switch format {
	case "csv":
		return NewCSVConverter(), nil
	case "xlsx", "excel":
		return NewExcelConverter(), nil
	case "json":
		return NewJSONConverter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

var exportHeaders = []string{
	"Receipt Number",
	"Store Name",
	"Date",
	"Subtotal",
	"VAT Amount",
	"VAT %",
	"VAT Breakdown",
	"Total Amount",
	"Currency",
	"Payment Method",
	"Items",
	"Address",
	"Phone",
	"Confidence Score",
	"Extraction Date",
}

// exportRow renders one receipt as strings in exportHeaders order.
// Missing numeric fields export as zero, missing text fields as empty.
func exportRow(rec *models.Receipt) []string {
	extractedAt := ""
	if !rec.ExtractedAt.IsZero() {
		extractedAt = rec.ExtractedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		strconv.Itoa(rec.ReceiptNumber),
		orEmpty(rec.MerchantName),
		orEmpty(rec.Date),
		formatAmount(rec.Subtotal),
		formatAmount(rec.TaxAmount),
		formatRate(rec.VATPercentageEffective),
		formatBreakdown(rec.VATBreakdown),
		formatAmount(rec.TotalAmount),
		rec.Currency,
		orEmpty(rec.PaymentMethod),
		formatItems(rec.Items),
		orEmpty(rec.Address),
		orEmpty(rec.Phone),
		strconv.FormatFloat(rec.ConfidenceScore, 'f', 2, 64),
		extractedAt,
	}
}

func orEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatAmount(v *float64) string {
	if v == nil {
		return "0.00"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// formatRate renders a percentage without trailing zeros: 21 not 21.00.
func formatRate(v *float64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatBreakdown(entries []models.VATEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s%% (base=%.2f, tax=%.2f)",
			strconv.FormatFloat(e.Rate, 'f', -1, 64), e.BaseAmount, e.TaxAmount))
	}
	return strings.Join(parts, "; ")
}

func formatItems(items []models.ReceiptItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		total := strconv.FormatFloat(it.LineTotal, 'f', 2, 64)
		if it.Name != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", it.Name, total))
		} else {
			parts = append(parts, total)
		}
	}
	return strings.Join(parts, "; ")
}
