package engine

import (
	"regexp"
	"strings"
)

// Reasoning models emit their chain of thought wrapped in think tags before
// the answer. Those blocks must never reach the user.
var reasoningBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripReasoning removes think blocks from a generated reply and trims the
// surrounding whitespace they leave behind.
func StripReasoning(text string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(text, ""))
}
