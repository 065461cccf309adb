// Package budget estimates token counts and trims embedding input to a
// backend's context window. Backends use different tokenizers, so this
// package uses a conservative character heuristic: 1 token ≈ 4 bytes of
// English prose or code.
package budget

import (
	"strings"
	"unicode/utf8"
)

const (
	// charsPerToken is the byte-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxInputTokens is the input budget applied to remote embedding
	// backends. It sits under the 8191-token limit of OpenAI embedding
	// models with room for tokenizer variance.
	DefaultMaxInputTokens = 8000
)

// Estimate returns a rough token count for s using the byte heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Truncate returns s cut to at most maxTokens estimated tokens. The cut lands
// on a rune boundary and, when one is near, on whitespace. maxTokens <= 0
// disables truncation.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 || Estimate(s) <= maxTokens {
		return s
	}
	limit := maxTokens * charsPerToken
	if limit >= len(s) {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	head := s[:cut]

	// Prefer a word boundary within the last fifth of the budget.
	if i := strings.LastIndexAny(head, " \t\n"); i >= cut-cut/5 && i > 0 {
		head = head[:i]
	}
	return strings.TrimRight(head, " \t\n")
}
