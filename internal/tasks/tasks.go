// Package tasks defines the background jobs that persist conversation state
// and maintain rolling summaries and user profiles out of the hot path.
package tasks

import (
	"github.com/google/uuid"

	"github.com/gosuda/relai/internal/domain"
)

// Task type names. All conversation jobs share one queue so per-conversation
// ordering pressure stays low; handlers are idempotent instead.
const (
	TypeLogMessage      = "chat:log_message"
	TypeUpdateSummary   = "chat:update_summary"
	TypeUpdateProfile   = "chat:update_profile"
	TypeUpdateStage     = "chat:update_stage"
	TypeSetLanguage     = "chat:set_language"
	TypeAddSearchQuery  = "chat:add_search_query"
	TypeUpdateTokens    = "chat:update_tokens"
	TypeArchivePassport = "chat:archive_passport"
)

// QueueName is the asynq queue all conversation jobs are routed to.
const QueueName = "chat"

type LogMessagePayload struct {
	PassportID uuid.UUID    `json:"passport_id"`
	Seq        int64        `json:"seq"`
	Role       domain.Role  `json:"role"`
	Stage      domain.Stage `json:"stage"`
	Text       string       `json:"text"`
}

// CheckpointPayload bounds the turns a summary or profile update absorbs:
// everything with PrevCutoff < seq <= Cutoff.
type CheckpointPayload struct {
	PassportID uuid.UUID    `json:"passport_id"`
	PrevCutoff int64        `json:"prev_cutoff"`
	Cutoff     int64        `json:"cutoff"`
	Stage      domain.Stage `json:"stage"`
}

type UpdateStagePayload struct {
	PassportID uuid.UUID    `json:"passport_id"`
	Stage      domain.Stage `json:"stage"`
}

type SetLanguagePayload struct {
	PassportID uuid.UUID `json:"passport_id"`
	Language   string    `json:"language"`
}

type AddSearchQueryPayload struct {
	PassportID uuid.UUID `json:"passport_id"`
	Query      string    `json:"query"`
}

type UpdateTokensPayload struct {
	Delta int64 `json:"delta"`
}

type ArchivePassportPayload struct {
	PassportID uuid.UUID `json:"passport_id"`
}
