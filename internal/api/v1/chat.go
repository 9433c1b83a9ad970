package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/relai/internal/domain"
)

type InitChatInput struct {
	Body struct {
		UserRef         string `json:"user_ref" minLength:"1" maxLength:"255" doc:"Opaque user or channel reference"`
		PipelineName    string `json:"pipeline_name" minLength:"1" maxLength:"255" doc:"Pipeline the conversation runs against"`
		PipelineVersion string `json:"pipeline_version" maxLength:"64" doc:"Pipeline version label"`
	}
}

type InitChatOutput struct {
	Body struct {
		Passport *domain.Passport `json:"passport"`
		WSPath   string           `json:"ws_path" doc:"WebSocket path to attach to the conversation"`
	}
}

type GetPassportInput struct {
	PassportID uuid.UUID `path:"passportID" doc:"Conversation passport ID"`
}

type GetPassportOutput struct {
	Body *domain.Passport
}

type ListHistoryInput struct {
	PassportID uuid.UUID `path:"passportID" doc:"Conversation passport ID"`
	AfterSeq   int64     `query:"after_seq" minimum:"0" default:"0" doc:"Return entries with seq greater than this"`
}

type ListHistoryOutput struct {
	Body []*domain.MessageLogEntry
}

type CompleteChatInput struct {
	PassportID uuid.UUID `path:"passportID" doc:"Conversation passport ID"`
}

type CompleteChatOutput struct {
	Body struct {
		Status domain.PassportStatus `json:"status"`
	}
}

type TokenStatsOutput struct {
	Body struct {
		TokensSpent int64 `json:"tokens_spent" doc:"Cumulative token spend across all conversations"`
	}
}

// RegisterChatRoutes wires the conversation lifecycle endpoints.
func RegisterChatRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "init-chat",
		Method:      http.MethodPost,
		Path:        "/chat/init",
		Summary:     "Open a new conversation",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *InitChatInput) (*InitChatOutput, error) {
		now := time.Now()
		p := &domain.Passport{
			ID:              uuid.New(),
			UserRef:         input.Body.UserRef,
			PipelineName:    input.Body.PipelineName,
			PipelineVersion: input.Body.PipelineVersion,
			Status:          domain.PassportStatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := store.Passports().Create(ctx, p); err != nil {
			return nil, huma.Error500InternalServerError("failed to create passport", err)
		}

		out := &InitChatOutput{}
		out.Body.Passport = p
		out.Body.WSPath = "/ws/chat/" + p.ID.String()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-passport",
		Method:      http.MethodGet,
		Path:        "/chat/{passportID}",
		Summary:     "Fetch a conversation passport",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *GetPassportInput) (*GetPassportOutput, error) {
		p, err := store.Passports().GetByID(ctx, input.PassportID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("passport not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load passport", err)
		}

		return &GetPassportOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-chat-history",
		Method:      http.MethodGet,
		Path:        "/chat/{passportID}/history",
		Summary:     "List the durable message log of a conversation",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
		if _, err := store.Passports().GetByID(ctx, input.PassportID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("passport not found")
			}
			return nil, huma.Error500InternalServerError("failed to load passport", err)
		}

		entries, err := store.Messages().ListAfter(ctx, input.PassportID, input.AfterSeq)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list history", err)
		}

		return &ListHistoryOutput{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-chat",
		Method:      http.MethodPost,
		Path:        "/chat/{passportID}/complete",
		Summary:     "Mark a conversation as completed",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *CompleteChatInput) (*CompleteChatOutput, error) {
		p, err := store.Passports().GetByID(ctx, input.PassportID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("passport not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load passport", err)
		}
		if p.Status != domain.PassportStatusActive {
			return nil, huma.Error409Conflict("passport is not active")
		}

		if err := store.Passports().SetStatus(ctx, input.PassportID, domain.PassportStatusCompleted); err != nil {
			return nil, huma.Error500InternalServerError("failed to complete passport", err)
		}

		out := &CompleteChatOutput{}
		out.Body.Status = domain.PassportStatusCompleted
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "token-stats",
		Method:      http.MethodGet,
		Path:        "/stats/tokens",
		Summary:     "Report cumulative token spend",
		Tags:        []string{"Stats"},
	}, func(ctx context.Context, _ *struct{}) (*TokenStatsOutput, error) {
		total, err := store.Tokens().Total(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read token stats", err)
		}

		out := &TokenStatsOutput{}
		out.Body.TokensSpent = total
		return out, nil
	})
}
