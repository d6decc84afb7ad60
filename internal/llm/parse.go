package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bonvision/receipt-processor/internal/vat"
)

// ErrParseFailure reports a model response from which no JSON object
// could be recovered.
var ErrParseFailure = errors.New("no parseable JSON in model response")

// Candidate carries one receipt's fields exactly as the model reported
// them, before reconciliation.
type Candidate struct {
	MerchantName  *string     `json:"merchant_name"`
	Date          *string     `json:"date"`
	TotalAmount   Number      `json:"total_amount"`
	TaxAmount     Number      `json:"tax_amount"`
	Subtotal      Number      `json:"subtotal"`
	Currency      *string     `json:"currency"`
	Items         ItemList    `json:"items"`
	VATBreakdown  VATLineList `json:"vat_breakdown"`
	PaymentMethod *string     `json:"payment_method"`
	Address       *string     `json:"address"`
	Phone         *string     `json:"phone"`
	VATAmount     Number      `json:"vat_amount"`
	VATPercentage Number      `json:"vat_percentage"`
}

type Item struct {
	Name     Text   `json:"name"`
	Quantity Number `json:"quantity"`
	Price    Number `json:"price"`
	Total    Number `json:"total"`
	VATRate  Number `json:"vat_rate"`
}

type VATLine struct {
	Rate Number `json:"rate"`
	Base Number `json:"base"`
	Tax  Number `json:"tax"`
}

// Number accepts JSON numbers and quoted amounts such as "12,50".
// Null and unparseable values leave Valid false; they never fail the
// surrounding object.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = Number{Value: f, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, err := vat.ParseAmount(s); err == nil {
			*n = Number{Value: v, Valid: true}
		}
		return nil
	}
	*n = Number{}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Ptr returns the value as a nullable pointer.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Text accepts strings and the bare numbers models occasionally emit
// for name-like fields.
type Text struct {
	Value string
	Valid bool
}

func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Text{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		*t = Text{Value: s, Valid: s != ""}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*t = Text{Value: strconv.FormatFloat(f, 'f', -1, 64), Valid: true}
		return nil
	}
	*t = Text{}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value)
}

// ItemList drops elements that are not objects instead of failing the
// whole array.
type ItemList []Item

func (l *ItemList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(ItemList, 0, len(raw))
	for _, r := range raw {
		var it Item
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		out = append(out, it)
	}
	*l = out
	return nil
}

type VATLineList []VATLine

func (l *VATLineList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(VATLineList, 0, len(raw))
	for _, r := range raw {
		var line VATLine
		if err := json.Unmarshal(r, &line); err != nil {
			continue
		}
		out = append(out, line)
	}
	*l = out
	return nil
}

var (
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reNullDecimal   = regexp.MustCompile(`\bnull\.\d+\b`)
)

// ExtractJSON pulls a JSON object out of a model response. Models wrap
// JSON in markdown fences, surround it with prose, or emit almost-JSON
// with trailing commas and null.0 artifacts; each strategy below
// handles one failure mode, cheapest first.
func ExtractJSON(raw string) ([]byte, error) {
	text := stripFences(raw)

	if obj, ok := tryObject(text); ok {
		return obj, nil
	}
	if obj, ok := tryObject(braceSlice(text)); ok {
		return obj, nil
	}
	if obj, ok := tryObject(braceSlice(repairJSON(text))); ok {
		return obj, nil
	}
	if obj, ok := tryObject(repairJSON(lineSalvage(text))); ok {
		return obj, nil
	}
	return nil, ErrParseFailure
}

// DecodeCandidate parses a model response into a Candidate. The
// returned names are top-level fields the schema rejected and nulled
// out; the error is set only when no object could be recovered at all.
func DecodeCandidate(raw string) (*Candidate, []string, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, nil, err
	}

	obj, demoted := sanitize(obj)

	var c Candidate
	if err := json.Unmarshal(obj, &c); err != nil {
		return nil, demoted, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return &c, demoted, nil
}

func tryObject(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, false
	}
	return []byte(s), true
}

func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(s)
}

func braceSlice(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func repairJSON(s string) string {
	s = reTrailingComma.ReplaceAllString(s, "$1")
	s = reNullDecimal.ReplaceAllString(s, "null")
	return s
}

// lineSalvage keeps the lines from the first one containing "{" up to
// the first one containing "}", recovering flat objects from responses
// that trail off into garbage.
func lineSalvage(s string) string {
	var b strings.Builder
	in := false
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, "{") {
			in = true
		}
		if in {
			b.WriteString(line)
			b.WriteString("\n")
		}
		if in && strings.Contains(line, "}") {
			break
		}
	}
	return b.String()
}
