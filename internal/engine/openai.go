package engine

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gosuda/relai/internal/config"
	"github.com/gosuda/relai/internal/domain"
)

// OpenAIGenerator produces completions through the OpenAI chat API or any
// server speaking the same protocol.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator builds a generator against the hosted OpenAI API.
func NewOpenAIGenerator(cfg config.EngineConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("engine.NewOpenAIGenerator: api key is required")
	}

	return &OpenAIGenerator{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
	}, nil
}

// NewLocalGenerator builds a generator against a self-hosted
// OpenAI-compatible endpoint such as vLLM or Ollama.
func NewLocalGenerator(cfg config.EngineConfig) (Generator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("engine.NewLocalGenerator: base url is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (Reply, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    apiRole(turn.Role),
			Content: turn.Text,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("engine.OpenAIGenerator.Generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("engine.OpenAIGenerator.Generate: empty choices")
	}

	return Reply{
		Text:        resp.Choices[0].Message.Content,
		TokensSpent: int64(resp.Usage.TotalTokens),
	}, nil
}

func apiRole(role domain.Role) string {
	switch role {
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
