package converters

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/bonvision/receipt-processor/internal/models"
)

const sheetName = "Receipts"

type ExcelConverter struct{}

func NewExcelConverter() *ExcelConverter {
	return &ExcelConverter{}
}

func (c *ExcelConverter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (c *ExcelConverter) Extension() string { return ".xlsx" }

func (c *ExcelConverter) Convert(receipts []*models.Receipt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	for col, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	for i, rec := range receipts {
		row := i + 2
		for col, value := range exportRow(rec) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "B", "B", 24) // store name
	_ = f.SetColWidth(sheetName, "G", "G", 40) // VAT breakdown
	_ = f.SetColWidth(sheetName, "K", "K", 48) // items
	_ = f.SetColWidth(sheetName, "O", "O", 22) // extraction date

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
