package llm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// Receipt text beyond this length stops adding signal and only burns
// context window.
const maxPromptTextRunes = 3000

const extractionTemplate = `You are a receipt data extraction expert. Extract structured data from the following receipt text (which may contain OCR errors).

CRITICAL JSON FORMATTING RULES:
1. Use null (not null.00, null.0, or any other variant) for missing or unknown values
2. Use proper JSON syntax: no trailing commas, proper quotes
3. Return ONLY valid JSON, no markdown code blocks, no explanations, no additional text
4. All amounts must be plain JSON numbers (e.g. 9.72, not "9,72" or "€9.72")
5. Dates must be in YYYY-MM-DD format when possible, otherwise keep the original string

REQUIRED JSON SCHEMA:
{
  "merchant_name": "string or null",
  "date": "string (YYYY-MM-DD preferred) or null",
  "total_amount": number or null,
  "tax_amount": number or null,
  "subtotal": number or null,
  "currency": "string (3-letter code: EUR, USD, GBP) or null",
  "items": [{"name": "string", "quantity": number, "price": number, "total": number, "vat_rate": number or null}] or [],
  "vat_breakdown": [{"rate": number, "base": number, "tax": number}] or [],
  "payment_method": "string or null",
  "address": "string or null",
  "phone": "string or null",
  "vat_amount": number or null,
  "vat_percentage": number or null
}

EXTRACTION GUIDELINES:

1. MERCHANT_NAME: the store or company name, usually at the top. Common Dutch stores: Albert Heijn (AH), Jumbo, Plus, Coop.

2. DATE:
   - Dutch receipts write the day first: "15-07-2022" or "15/07/2022" means 2022-07-15
   - Look for keywords: "Datum", "Date", "Bon datum"
   - If unclear, keep the original string

3. TOTAL_AMOUNT:
   - Look for "Totaal", "Total", "Totaalbedrag", "Eindtotaal", "Totaal incl. BTW"
   - Dutch receipts use a decimal comma: convert "9,72" to 9.72
   - Strip currency symbols: "€12,50" becomes 12.50

4. TAX_AMOUNT / VAT_AMOUNT:
   - Dutch receipts call VAT "BTW" (Belasting Toegevoegde Waarde)
   - Look for "BTW", "VAT", "Tax", "Belasting"

5. VAT_BREAKDOWN:
   - Many receipts print a BTW table with one line per rate: the rate, the net amount (base) and the tax
   - Valid rates are {{.Rates}}; copy each table line as {"rate": ..., "base": ..., "tax": ...}
   - Leave it [] when no such table is printed

6. CURRENCY: € means EUR, $ means USD, £ means GBP. Default to EUR for Dutch receipts.

7. ITEMS:
   - Extract line items when clearly listed: name, quantity, unit price, line total
   - Add "vat_rate" when the line is marked with a rate (a percentage or an A/B rate marker)
   - Use [] when the items are not clearly separated

8. PAYMENT_METHOD: look for "Contant", "Cash", "PIN", "Debit", "Creditcard", "iDEAL".

9. ADDRESS and PHONE: copy them when printed.

10. VAT_PERCENTAGE:
    - Common Dutch VAT rates: 9% (low) and 21% (standard)
    - With tax_amount and total_amount known: (tax_amount / (total_amount - tax_amount)) * 100

HANDLING OCR ERRORS:
- Use null for unreadable fields
- Infer from context ("AH" almost certainly means "Albert Heijn")
- For garbled numbers, use your best interpretation

EXAMPLE OUTPUT:
{
  "merchant_name": "Albert Heijn",
  "date": "2022-07-15",
  "total_amount": 9.72,
  "tax_amount": 1.68,
  "subtotal": 8.04,
  "currency": "EUR",
  "items": [{"name": "Brood", "quantity": 1, "price": 2.50, "total": 2.50, "vat_rate": 21}, {"name": "Melk", "quantity": 2, "price": 1.25, "total": 2.50, "vat_rate": 21}],
  "vat_breakdown": [{"rate": 21, "base": 8.04, "tax": 1.68}],
  "payment_method": "PIN",
  "address": "Hoofdstraat 123, Amsterdam",
  "phone": null,
  "vat_amount": 1.68,
  "vat_percentage": 21.0
}
{{if .Examples}}
{{.Examples}}{{end}}
NOW EXTRACT DATA FROM THIS RECEIPT TEXT:

{{.Text}}

Return ONLY the JSON object (no markdown, no code blocks, no explanations):`

type promptData struct {
	Rates    string
	Examples string
	Text     string
}

// BuildPrompt renders the extraction prompt for one receipt. examples
// is an optional few-shot block of previously processed receipts;
// rates are the VAT percentages the scheme allows.
func BuildPrompt(text, examples string, rates []float64) (string, error) {
	tmpl, err := template.New("extraction").Parse(extractionTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	data := promptData{
		Rates:    formatRates(rates),
		Examples: strings.TrimSpace(examples),
		Text:     truncateRunes(strings.TrimSpace(text), maxPromptTextRunes),
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

func formatRates(rates []float64) string {
	if len(rates) == 0 {
		return "0%, 9% and 21%"
	}
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = strconv.FormatFloat(r, 'f', -1, 64) + "%"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
