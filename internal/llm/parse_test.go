package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanResponse = `{
  "merchant_name": "Albert Heijn",
  "date": "2022-07-15",
  "total_amount": 9.72,
  "tax_amount": 1.68,
  "subtotal": 8.04,
  "currency": "EUR",
  "items": [{"name": "Brood", "quantity": 1, "price": 2.50, "total": 2.50, "vat_rate": 9}],
  "vat_breakdown": [{"rate": 9, "base": 8.04, "tax": 1.68}],
  "payment_method": "PIN",
  "address": null,
  "phone": null,
  "vat_amount": 1.68,
  "vat_percentage": 21.0
}`

func TestDecodeCandidate_CleanJSON(t *testing.T) {
	c, demoted, err := DecodeCandidate(cleanResponse)
	require.NoError(t, err)
	assert.Empty(t, demoted)

	require.NotNil(t, c.MerchantName)
	assert.Equal(t, "Albert Heijn", *c.MerchantName)
	require.NotNil(t, c.Date)
	assert.Equal(t, "2022-07-15", *c.Date)
	assert.True(t, c.TotalAmount.Valid)
	assert.Equal(t, 9.72, c.TotalAmount.Value)
	assert.True(t, c.TaxAmount.Valid)
	assert.Equal(t, 1.68, c.TaxAmount.Value)
	assert.Nil(t, c.Phone)

	require.Len(t, c.Items, 1)
	assert.Equal(t, "Brood", c.Items[0].Name.Value)
	assert.Equal(t, 2.5, c.Items[0].Total.Value)
	assert.True(t, c.Items[0].VATRate.Valid)
	assert.Equal(t, 9.0, c.Items[0].VATRate.Value)

	require.Len(t, c.VATBreakdown, 1)
	assert.Equal(t, 9.0, c.VATBreakdown[0].Rate.Value)
	assert.Equal(t, 8.04, c.VATBreakdown[0].Base.Value)
}

func TestDecodeCandidate_MarkdownFence(t *testing.T) {
	raw := "Here is the extracted data:\n```json\n" + cleanResponse + "\n```\nLet me know if you need anything else."

	c, _, err := DecodeCandidate(raw)
	require.NoError(t, err)
	require.NotNil(t, c.MerchantName)
	assert.Equal(t, "Albert Heijn", *c.MerchantName)
}

func TestDecodeCandidate_BareFence(t *testing.T) {
	raw := "```\n" + cleanResponse + "\n```"

	c, _, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Equal(t, 9.72, c.TotalAmount.Value)
}

func TestDecodeCandidate_JSONEmbeddedInProse(t *testing.T) {
	raw := `The JSON object is {"merchant_name": "Jumbo", "total_amount": 12.5} as requested.`

	c, _, err := DecodeCandidate(raw)
	require.NoError(t, err)
	require.NotNil(t, c.MerchantName)
	assert.Equal(t, "Jumbo", *c.MerchantName)
	assert.Equal(t, 12.5, c.TotalAmount.Value)
}

func TestDecodeCandidate_RepairsTrailingCommasAndNullDecimals(t *testing.T) {
	raw := `{"merchant_name": "Plus", "total_amount": 4.50, "tax_amount": null.00, "items": [],}`

	c, demoted, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Empty(t, demoted)
	require.NotNil(t, c.MerchantName)
	assert.Equal(t, "Plus", *c.MerchantName)
	assert.Equal(t, 4.5, c.TotalAmount.Value)
	assert.False(t, c.TaxAmount.Valid)
}

func TestDecodeCandidate_LineSalvage(t *testing.T) {
	raw := "Model output follows\n{\n\"merchant_name\": \"Coop\",\n\"total_amount\": 3.20\n}\ntrailing notes with a stray } brace"

	c, _, err := DecodeCandidate(raw)
	require.NoError(t, err)
	require.NotNil(t, c.MerchantName)
	assert.Equal(t, "Coop", *c.MerchantName)
	assert.Equal(t, 3.2, c.TotalAmount.Value)
}

func TestDecodeCandidate_NoJSONAtAll(t *testing.T) {
	_, _, err := DecodeCandidate("I could not read this receipt.")
	assert.Error(t, err)

	_, _, err = DecodeCandidate("")
	assert.Error(t, err)
}

func TestDecodeCandidate_SchemaDemotesWrongTypes(t *testing.T) {
	raw := `{"merchant_name": 12345, "total_amount": 9.99, "currency": "EUR"}`

	c, demoted, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"merchant_name"}, demoted)
	assert.Nil(t, c.MerchantName)
	assert.Equal(t, 9.99, c.TotalAmount.Value)
	require.NotNil(t, c.Currency)
	assert.Equal(t, "EUR", *c.Currency)
}

func TestDecodeCandidate_SchemaDemotesNonArrayItems(t *testing.T) {
	raw := `{"items": "geen", "total_amount": 1.00}`

	c, demoted, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Contains(t, demoted, "items")
	assert.Empty(t, c.Items)
	assert.Equal(t, 1.0, c.TotalAmount.Value)
}

func TestDecodeCandidate_SkipsNonObjectItems(t *testing.T) {
	raw := `{"items": [{"name": "Kaas", "total": 5.00}, "oops", {"name": "Wijn", "total": 7.95}]}`

	c, demoted, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Empty(t, demoted)
	require.Len(t, c.Items, 2)
	assert.Equal(t, "Kaas", c.Items[0].Name.Value)
	assert.Equal(t, "Wijn", c.Items[1].Name.Value)
}

func TestDecodeCandidate_QuotedAmounts(t *testing.T) {
	raw := `{"total_amount": "12,50", "tax_amount": "€2,17", "subtotal": "10,33"}`

	c, demoted, err := DecodeCandidate(raw)
	require.NoError(t, err)
	assert.Empty(t, demoted)
	assert.Equal(t, 12.5, c.TotalAmount.Value)
	assert.Equal(t, 2.17, c.TaxAmount.Value)
	assert.Equal(t, 10.33, c.Subtotal.Value)
}

func TestNumber_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		value float64
		valid bool
	}{
		{"plain number", `12.5`, 12.5, true},
		{"integer", `21`, 21, true},
		{"decimal comma string", `"12,50"`, 12.5, true},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"garbage string", `"abc"`, 0, false},
		{"array", `[1]`, 0, false},
		{"object", `{}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Number
			err := json.Unmarshal([]byte(tt.in), &n)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, n.Valid)
			if tt.valid {
				assert.Equal(t, tt.value, n.Value)
			}
		})
	}
}

func TestNumber_Ptr(t *testing.T) {
	assert.Nil(t, Number{}.Ptr())

	p := Number{Value: 9.72, Valid: true}.Ptr()
	require.NotNil(t, p)
	assert.Equal(t, 9.72, *p)
}
