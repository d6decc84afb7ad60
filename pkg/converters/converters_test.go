package converters

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bonvision/receipt-processor/internal/models"
)

func fullReceipt() *models.Receipt {
	merchant := "Albert Heijn"
	date := "2025-03-01"
	subtotal := 15.00
	tax := 2.55
	total := 17.55
	payment := "PIN"
	address := "Stationsplein 1, Amsterdam"
	phone := "+31 20 123 4567"
	nine := 9.0
	return &models.Receipt{
		ID:           "r1",
		FileID:       "f1",
		MerchantName: &merchant,
		Date:         &date,
		Currency:     "EUR",
		Subtotal:     &subtotal,
		TaxAmount:    &tax,
		TotalAmount:  &total,
		VATBreakdown: []models.VATEntry{
			{Rate: 21, BaseAmount: 10.00, TaxAmount: 2.10},
			{Rate: 9, BaseAmount: 5.00, TaxAmount: 0.45},
		},
		Items: []models.ReceiptItem{
			{Name: "Brood", Quantity: 1, UnitPrice: 2.50, LineTotal: 2.50, VATRate: &nine},
			{Name: "", Quantity: 1, UnitPrice: 5.54, LineTotal: 5.54},
		},
		PaymentMethod:   &payment,
		Address:         &address,
		Phone:           &phone,
		ReceiptNumber:   1,
		ConfidenceScore: 0.92,
		ExtractedAt:     time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func nullReceipt() *models.Receipt {
	rec := models.NullReceipt("f1", "no usable text recognized in this region")
	rec.ID = "r2"
	rec.ReceiptNumber = 2
	return rec
}

func TestExportRow_FullReceipt(t *testing.T) {
	row := exportRow(fullReceipt())

	assert.Equal(t, []string{
		"1",
		"Albert Heijn",
		"2025-03-01",
		"15.00",
		"2.55",
		"0",
		"21% (base=10.00, tax=2.10); 9% (base=5.00, tax=0.45)",
		"17.55",
		"EUR",
		"PIN",
		"Brood (2.50); 5.54",
		"Stationsplein 1, Amsterdam",
		"+31 20 123 4567",
		"0.92",
		"2025-03-01T12:30:00Z",
	}, row)
}

func TestExportRow_NullReceipt(t *testing.T) {
	row := exportRow(nullReceipt())

	require.Len(t, row, len(exportHeaders))
	assert.Equal(t, "2", row[0])
	assert.Equal(t, "", row[1])
	assert.Equal(t, "0.00", row[3])
	assert.Equal(t, "0", row[5])
	assert.Equal(t, "", row[6])
	assert.Equal(t, "EUR", row[8])
	assert.Equal(t, "", row[10])
	assert.Equal(t, "0.00", row[13])
	assert.NotEmpty(t, row[14])
}

func TestCSVConverter(t *testing.T) {
	data, err := NewCSVConverter().Convert([]*models.Receipt{fullReceipt(), nullReceipt()})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportHeaders, records[0])
	assert.Equal(t, "Albert Heijn", records[1][1])
	assert.Equal(t, "17.55", records[1][7])
	assert.Equal(t, "0.00", records[2][3])
}

func TestExcelConverter(t *testing.T) {
	data, err := NewExcelConverter().Convert([]*models.Receipt{fullReceipt(), nullReceipt()})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Receipt Number", header)

	merchant, err := f.GetCellValue(sheetName, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Albert Heijn", merchant)

	breakdown, err := f.GetCellValue(sheetName, "G2")
	require.NoError(t, err)
	assert.Contains(t, breakdown, "21% (base=10.00, tax=2.10)")
}

func TestJSONConverter(t *testing.T) {
	data, err := NewJSONConverter().Convert([]*models.Receipt{fullReceipt(), nullReceipt()})
	require.NoError(t, err)

	var receipts []*models.Receipt
	require.NoError(t, json.Unmarshal(data, &receipts))
	require.Len(t, receipts, 2)
	assert.Equal(t, "Albert Heijn", *receipts[0].MerchantName)
	assert.Nil(t, receipts[1].MerchantName)
}

func TestForFormat(t *testing.T) {
	conv, err := ForFormat("csv")
	require.NoError(t, err)
	assert.IsType(t, &CSVConverter{}, conv)

	conv, err = ForFormat("xlsx")
	require.NoError(t, err)
	assert.IsType(t, &ExcelConverter{}, conv)

	conv, err = ForFormat("excel")
	require.NoError(t, err)
	assert.IsType(t, &ExcelConverter{}, conv)

	conv, err = ForFormat("json")
	require.NoError(t, err)
	assert.IsType(t, &JSONConverter{}, conv)

	_, err = ForFormat("pdf")
	assert.ErrorContains(t, err, "unsupported export format")
}

func TestFormatRate(t *testing.T) {
	twentyOne := 21.0
	nineHalf := 9.5

	assert.Equal(t, "21", formatRate(&twentyOne))
	assert.Equal(t, "9.5", formatRate(&nineHalf))
	assert.Equal(t, "0", formatRate(nil))
}
