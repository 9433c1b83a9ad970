package engine

import (
	"context"
	"errors"

	"github.com/gosuda/relai/internal/domain"
)

// ErrCircuitOpen is returned when the generation backend is temporarily
// shut off after repeated failures.
var ErrCircuitOpen = errors.New("engine: circuit open") //nolint:gochecknoglobals // sentinel error

// Reply is one generated completion plus the token cost of producing it.
type Reply struct {
	Text        string
	TokensSpent int64
}

// Snippet is one retrieved document fragment with its relevance score.
type Snippet struct {
	Text       string
	Score      float64
	DocumentID string
}

// GenerateRequest carries everything a backend needs for one completion.
// System is prepended as a system turn when non-empty.
type GenerateRequest struct {
	System string
	Turns  []domain.Turn
}

// Generator produces completions from a conversation.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Reply, error)
}

// Retriever finds document fragments relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error)
}
