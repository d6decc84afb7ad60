package converters

import (
	"encoding/json"
	"fmt"

	"github.com/bonvision/receipt-processor/internal/models"
)

// JSONConverter exports receipts as a pretty-printed JSON array, useful
// for feeding downstream tooling that does not want spreadsheet formats.
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) ContentType() string { return "application/json" }
func (c *JSONConverter) Extension() string   { return ".json" }

func (c *JSONConverter) Convert(receipts []*models.Receipt) ([]byte, error) {
	data, err := json.MarshalIndent(receipts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipts: %w", err)
	}
	return data, nil
}
