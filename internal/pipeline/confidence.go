package pipeline

import (
	"strings"

	"github.com/bonvision/receipt-processor/internal/models"
)

// confidenceScore grades one receipt: 0.4 for a parseable model response,
// up to 0.4 for key field coverage (merchant, date, total, tax, items) and
// up to 0.2 for acquired text quality. Text quality looks at length and
// character diversity so a smear of repeated OCR noise does not score.
func confidenceScore(rec *models.Receipt, extracted bool, text string) float64 {
	score := 0.0
	if extracted {
		score += 0.4
	}

	fields := 0
	if rec.MerchantName != nil {
		fields++
	}
	if rec.Date != nil {
		fields++
	}
	if rec.TotalAmount != nil {
		fields++
	}
	if rec.TaxAmount != nil {
		fields++
	}
	if len(rec.Items) > 0 {
		fields++
	}
	score += float64(fields) / 5 * 0.4

	score += textQuality(text)

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func textQuality(text string) float64 {
	trimmed := strings.TrimSpace(text)
	length := len([]rune(trimmed))
	switch {
	case length >= 50:
		unique := distinctRunes(strings.ToLower(trimmed))
		if unique >= 10 {
			return 0.2
		}
		if unique >= 5 {
			return 0.1
		}
		return 0
	case length >= 20:
		return 0.1
	default:
		return 0
	}
}

func distinctRunes(s string) int {
	seen := make(map[rune]struct{}, 64)
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
