package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/relai/internal/api/v1"
	"github.com/gosuda/relai/internal/domain"
)

// ---------------------------------------------------------------------------
// POST /chat/init
// ---------------------------------------------------------------------------

func TestInitChat(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				createFunc: func(_ context.Context, p *domain.Passport) error {
					assert.Equal(t, "telegram:42", p.UserRef)
					assert.Equal(t, "support-docs", p.PipelineName)
					assert.Equal(t, domain.PassportStatusActive, p.Status)
					assert.NotEmpty(t, p.ID, "ID should be generated")
					assert.False(t, p.CreatedAt.IsZero(), "CreatedAt should be set")
					return nil
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Post("/chat/init", map[string]any{
			"user_ref":         "telegram:42",
			"pipeline_name":    "support-docs",
			"pipeline_version": "v3",
		})

		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Passport *domain.Passport `json:"passport"`
			WSPath   string           `json:"ws_path"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "telegram:42", body.Passport.UserRef)
		assert.Equal(t, "/ws/chat/"+body.Passport.ID.String(), body.WSPath)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				createFunc: func(context.Context, *domain.Passport) error {
					return errors.New("db down")
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Post("/chat/init", map[string]any{
			"user_ref":         "u",
			"pipeline_name":    "p",
			"pipeline_version": "v1",
		})

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})

	t.Run("missing_user_ref_rejected", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterChatRoutes(api, &mockDataStore{passports: &mockPassportRepo{}})

		resp := api.Post("/chat/init", map[string]any{
			"pipeline_name": "p",
		})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /chat/{passportID}
// ---------------------------------------------------------------------------

func TestGetPassport(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		passportID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Passport, error) {
					assert.Equal(t, passportID, id)
					return &domain.Passport{ID: id, UserRef: "u", Status: domain.PassportStatusActive}, nil
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Get("/chat/" + passportID.String())
		require.Equal(t, http.StatusOK, resp.Code)

		var body domain.Passport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, passportID, body.ID)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(context.Context, uuid.UUID) (*domain.Passport, error) {
					return nil, domain.ErrNotFound
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Get("/chat/" + uuid.NewString())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /chat/{passportID}/history
// ---------------------------------------------------------------------------

func TestListChatHistory(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		passportID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Passport, error) {
					return &domain.Passport{ID: id, Status: domain.PassportStatusActive}, nil
				},
			},
			messages: &mockMessageLogRepo{
				listAfterFunc: func(_ context.Context, id uuid.UUID, afterSeq int64) ([]*domain.MessageLogEntry, error) {
					assert.Equal(t, passportID, id)
					assert.Equal(t, int64(3), afterSeq)
					return []*domain.MessageLogEntry{
						{PassportID: id, Seq: 4, Role: domain.RoleUser, Text: "question"},
						{PassportID: id, Seq: 5, Role: domain.RoleAssistant, Text: "answer"},
					}, nil
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Get("/chat/" + passportID.String() + "/history?after_seq=3")
		require.Equal(t, http.StatusOK, resp.Code)

		var body []*domain.MessageLogEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body, 2)
		assert.Equal(t, int64(4), body[0].Seq)
	})

	t.Run("unknown_passport", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(context.Context, uuid.UUID) (*domain.Passport, error) {
					return nil, domain.ErrNotFound
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Get("/chat/" + uuid.NewString() + "/history")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// POST /chat/{passportID}/complete
// ---------------------------------------------------------------------------

func TestCompleteChat(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		passportID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Passport, error) {
					return &domain.Passport{ID: id, Status: domain.PassportStatusActive}, nil
				},
				setStatusFunc: func(_ context.Context, id uuid.UUID, status domain.PassportStatus) error {
					assert.Equal(t, passportID, id)
					assert.Equal(t, domain.PassportStatusCompleted, status)
					return nil
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Post("/chat/" + passportID.String() + "/complete")
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("already_archived_conflicts", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			passports: &mockPassportRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Passport, error) {
					return &domain.Passport{ID: id, Status: domain.PassportStatusArchived}, nil
				},
			},
		}

		v1.RegisterChatRoutes(api, store)

		resp := api.Post("/chat/" + uuid.NewString() + "/complete")
		assert.Equal(t, http.StatusConflict, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /stats/tokens
// ---------------------------------------------------------------------------

func TestTokenStats(t *testing.T) {
	t.Parallel()

	_, api := humatest.New(t)
	store := &mockDataStore{
		tokens: &mockTokenCounter{
			totalFunc: func(context.Context) (int64, error) {
				return 12345, nil
			},
		},
	}

	v1.RegisterChatRoutes(api, store)

	resp := api.Get("/stats/tokens")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		TokensSpent int64 `json:"tokens_spent"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(12345), body.TokensSpent)
}
