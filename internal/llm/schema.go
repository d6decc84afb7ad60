package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Amounts admit strings here because quoted values like "12,50" are
// recoverable downstream; structurally hopeless shapes are not.
const candidateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "merchant_name":  {"type": ["string", "null"]},
    "date":           {"type": ["string", "null"]},
    "total_amount":   {"type": ["number", "string", "null"]},
    "tax_amount":     {"type": ["number", "string", "null"]},
    "subtotal":       {"type": ["number", "string", "null"]},
    "currency":       {"type": ["string", "null"]},
    "items":          {"type": ["array", "null"]},
    "vat_breakdown":  {"type": ["array", "null"]},
    "payment_method": {"type": ["string", "null"]},
    "address":        {"type": ["string", "null"]},
    "phone":          {"type": ["string", "null"]},
    "vat_amount":     {"type": ["number", "string", "null"]},
    "vat_percentage": {"type": ["number", "string", "null"]}
  }
}`

var compiledCandidateSchema = jsonschema.MustCompileString("candidate.json", candidateSchema)

// sanitize validates a parsed object against the candidate schema and
// nulls out every top-level field that violates it, so one garbled
// field cannot sink the rest of the receipt. Returns the possibly
// rewritten object and the names of the demoted fields.
func sanitize(obj []byte) ([]byte, []string) {
	var v map[string]interface{}
	if err := json.Unmarshal(obj, &v); err != nil {
		return obj, nil
	}

	err := compiledCandidateSchema.Validate(v)
	if err == nil {
		return obj, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return obj, nil
	}

	fields := map[string]bool{}
	collectViolatedFields(ve, fields)
	if len(fields) == 0 {
		return obj, nil
	}

	demoted := make([]string, 0, len(fields))
	for f := range fields {
		v[f] = nil
		demoted = append(demoted, f)
	}
	sort.Strings(demoted)

	out, err := json.Marshal(v)
	if err != nil {
		return obj, demoted
	}
	return out, demoted
}

func collectViolatedFields(ve *jsonschema.ValidationError, fields map[string]bool) {
	if loc := strings.TrimPrefix(ve.InstanceLocation, "/"); loc != "" {
		field := loc
		if i := strings.Index(loc, "/"); i >= 0 {
			field = loc[:i]
		}
		fields[field] = true
	}
	for _, c := range ve.Causes {
		collectViolatedFields(c, fields)
	}
}
