package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PassportStatus string

const (
	PassportStatusActive    PassportStatus = "active"
	PassportStatusCompleted PassportStatus = "completed"
	PassportStatusArchived  PassportStatus = "archived"
)

// Passport is the durable identity record of one conversation. Created on
// first client contact; immutable once archived or completed except for
// audit fields.
type Passport struct {
	ID              uuid.UUID
	UserRef         string // opaque user/channel reference
	PipelineName    string
	PipelineVersion string
	Language        *string // nil until first detection
	Status          PassportStatus
	SearchQueries   []string // ordered history of past search queries
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PassportRepository interface {
	Create(ctx context.Context, p *Passport) error
	GetByID(ctx context.Context, id uuid.UUID) (*Passport, error)
	SetLanguage(ctx context.Context, id uuid.UUID, lang string) error
	SetStatus(ctx context.Context, id uuid.UUID, status PassportStatus) error
	AppendSearchQuery(ctx context.Context, id uuid.UUID, query string) error
}
