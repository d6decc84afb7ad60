package vat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Round2 rounds to cents. All stored amounts go through this.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round1 rounds to one decimal, used for effective VAT percentages.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

var currencySymbols = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
	"¥": "JPY",
	"₹": "INR",
}

var currencyAliases = map[string]string{
	"EURO":  "EUR",
	"EUROS": "EUR",
	"US$":   "USD",
	"CA$":   "CAD",
	"A$":    "AUD",
	"FR.":   "CHF",
	"SFR":   "CHF",
}

var validCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CAD": true, "AUD": true,
	"JPY": true, "CNY": true, "INR": true, "CHF": true,
}

// NormalizeCurrency maps extracted currency markers (symbols, words, ISO
// codes in any case) onto the supported ISO codes. Anything unrecognized
// falls back to EUR, the dominant currency of the scanned corpus.
func NormalizeCurrency(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "EUR"
	}
	if code, ok := currencySymbols[s]; ok {
		return code
	}
	up := strings.ToUpper(s)
	if code, ok := currencyAliases[up]; ok {
		return code
	}
	if validCurrencies[up] {
		return up
	}
	return "EUR"
}

// ParseAmount converts an extracted money string to a float. It strips
// currency markers and accepts both decimal-comma ("1.234,56") and
// decimal-point ("1,234.56") conventions. A lone separator followed by
// exactly three digits is read as a thousands separator.
func ParseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" || s == "-" {
		return 0, fmt.Errorf("no digits in amount %q", raw)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Rightmost separator is the decimal mark, the other one groups
		// thousands.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 && len(s)-lastDot-1 != 3 {
			// Decimal point, keep as-is.
		} else {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}
	return v, nil
}
