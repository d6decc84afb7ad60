package converters

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/bonvision/receipt-processor/internal/models"
)

type CSVConverter struct{}

func NewCSVConverter() *CSVConverter {
	return &CSVConverter{}
}

func (c *CSVConverter) ContentType() string { return "text/csv" }
func (c *CSVConverter) Extension() string   { return ".csv" }

func (c *CSVConverter) Convert(receipts []*models.Receipt) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, rec := range receipts {
		if err := w.Write(exportRow(rec)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
