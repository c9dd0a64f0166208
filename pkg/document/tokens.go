package document

import (
	"strings"
	"unicode"
)

// CountTokens returns the token count for text under the word-segmentation
// approximation used throughout the pipeline: maximal runs of letters/digits
// count as one token each, and every other non-space rune counts as its own
// token. The count is always recomputed from the text, never carried
// alongside it, so chunk token counts cannot drift from their content.
func CountTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}

// ExcerptText returns text trimmed to at most max runes for use in citation
// excerpts, appending an ellipsis when truncated.
func ExcerptText(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
