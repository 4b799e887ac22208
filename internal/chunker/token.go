package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough token count: the larger of ~1.33 tokens per
// word and ~4 characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(text))) * 1.33)
	byChars := utf8.RuneCountInString(text) / 4
	tokens := max(byWords, byChars)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
