package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_ContainsTextAndInstructions(t *testing.T) {
	prompt, err := BuildPrompt("ALBERT HEIJN\nTotaal 9,72\nBTW 21% 1,68", "", []float64{0, 9, 21})
	require.NoError(t, err)

	assert.Contains(t, prompt, "You are a receipt data extraction expert.")
	assert.Contains(t, prompt, "REQUIRED JSON SCHEMA:")
	assert.Contains(t, prompt, `"vat_breakdown"`)
	assert.Contains(t, prompt, "Valid rates are 0%, 9% and 21%")
	assert.Contains(t, prompt, "ALBERT HEIJN\nTotaal 9,72\nBTW 21% 1,68")
	assert.Contains(t, prompt, "NOW EXTRACT DATA FROM THIS RECEIPT TEXT:")
	assert.True(t, strings.HasSuffix(prompt, "Return ONLY the JSON object (no markdown, no code blocks, no explanations):"))
}

func TestBuildPrompt_InsertsExamplesBlock(t *testing.T) {
	examples := "REFERENCE EXAMPLES\n--- Example 1 (similarity=0.91, source=user-verified) ---\n{\"merchant_name\": \"Jumbo\"}\n--- End of examples ---"

	prompt, err := BuildPrompt("receipt text", examples, nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "--- Example 1 (similarity=0.91, source=user-verified) ---")

	// Examples must come before the receipt text they are guidance for.
	assert.Less(t, strings.Index(prompt, "REFERENCE EXAMPLES"), strings.Index(prompt, "NOW EXTRACT DATA"))
}

func TestBuildPrompt_OmitsEmptyExamplesBlock(t *testing.T) {
	prompt, err := BuildPrompt("receipt text", "", nil)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "REFERENCE EXAMPLES")
}

func TestBuildPrompt_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", 5000)

	prompt, err := BuildPrompt(long, "", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, strings.Repeat("a", maxPromptTextRunes))
	assert.NotContains(t, prompt, strings.Repeat("a", maxPromptTextRunes+1))
}

func TestFormatRates(t *testing.T) {
	assert.Equal(t, "0%, 9% and 21%", formatRates([]float64{0, 9, 21}))
	assert.Equal(t, "21%", formatRates([]float64{21}))
	assert.Equal(t, "5.5% and 20%", formatRates([]float64{5.5, 20}))
	assert.Equal(t, "0%, 9% and 21%", formatRates(nil))
}
