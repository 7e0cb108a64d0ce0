package content

import (
	"strings"
	"unicode/utf8"
)

// TruncationNotice marks a context blob that was cut to fit the token budget.
const TruncationNotice = "\n\n[Content truncated to fit the context window]"

// bytesPerToken is the token-estimate divisor: tokens ~= ceil(bytes / 4).
const bytesPerToken = 4

// EstimateTokens approximates the token count of text from its UTF-8 byte
// length.
func EstimateTokens(text string) int {
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

// Truncate enforces a token budget on text. Oversized text is sliced to the
// byte budget, cut back to the last sentence end inside the final 20% of the
// slice when one exists, and marked with the truncation notice. Re-truncating
// already-truncated text at the same budget is a no-op.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	if strings.HasSuffix(text, TruncationNotice) {
		return text
	}

	cut := maxTokens * bytesPerToken
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	slice := text[:cut]

	windowStart := cut - cut/5
	if idx := strings.LastIndexByte(slice, '.'); idx >= windowStart {
		slice = slice[:idx+1]
	}

	return slice + TruncationNotice
}
