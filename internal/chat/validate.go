package chat

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen caps inbound message length in characters.
const MaxMessageLen = 5000

// ValidationError carries the user-facing reason an inbound message was
// rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "chat: invalid message: " + e.Reason
}

// Inbound text matching any of these markers is rejected outright rather
// than sanitized.
var unsafeMarkers = []string{"<script>", "javascript:", "onload="}

// ValidateMessage checks an inbound message before it is queued. The
// returned error, when non-nil, is always a *ValidationError whose Reason
// is safe to echo to the user.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: "Message cannot be empty"}
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return &ValidationError{Reason: "Message is too long (max 5000 characters)"}
	}

	lowered := strings.ToLower(text)
	for _, marker := range unsafeMarkers {
		if strings.Contains(lowered, marker) {
			return &ValidationError{Reason: "Message contains unsafe content"}
		}
	}

	return nil
}
