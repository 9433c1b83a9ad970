package engine

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/gosuda/relai/internal/config"
)

// WeaviateRetriever runs near-text searches against a Weaviate class whose
// objects carry a "content" text property.
type WeaviateRetriever struct {
	client *weaviate.Client
	class  string
}

var _ Retriever = (*WeaviateRetriever)(nil)

func NewWeaviateRetriever(cfg config.EngineConfig) (*WeaviateRetriever, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.NewWeaviateRetriever: %w", err)
	}

	return &WeaviateRetriever{
		client: client,
		class:  cfg.WeaviateClass,
	}, nil
}

func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "_additional { id certainty }"},
		).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.WeaviateRetriever.Retrieve: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("engine.WeaviateRetriever.Retrieve: graphql: %s", result.Errors[0].Message)
	}

	return r.parseSnippets(result.Data)
}

func (r *WeaviateRetriever) parseSnippets(data map[string]models.JSONObject) ([]Snippet, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := get[r.class].([]any)
	if !ok {
		return nil, nil
	}

	snippets := make([]Snippet, 0, len(objects))
	for _, obj := range objects {
		fields, ok := obj.(map[string]any)
		if !ok {
			continue
		}

		var s Snippet
		if content, ok := fields["content"].(string); ok {
			s.Text = content
		}
		if additional, ok := fields["_additional"].(map[string]any); ok {
			if id, ok := additional["id"].(string); ok {
				s.DocumentID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				s.Score = certainty
			}
		}
		if s.Text == "" {
			continue
		}
		snippets = append(snippets, s)
	}

	return snippets, nil
}
