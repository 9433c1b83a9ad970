package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message of the live conversation window.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// MessageLogEntry is the durable, append-only audit record of one turn.
// Seq is the per-conversation sequence number and the single source of truth
// for how many turns have occurred. Entries are never updated or deleted.
type MessageLogEntry struct {
	ID         int64
	PassportID uuid.UUID
	Seq        int64
	Role       Role
	Stage      Stage
	Text       string
	CreatedAt  time.Time
}

// MessageLogRepository stores and retrieves ordered audit entries per
// conversation. ListAfter bounds recovery replay to entries past a snapshot
// cutoff.
type MessageLogRepository interface {
	Append(ctx context.Context, e *MessageLogEntry) error
	ListAfter(ctx context.Context, passportID uuid.UUID, afterSeq int64) ([]*MessageLogEntry, error)
	ListAll(ctx context.Context, passportID uuid.UUID) ([]*MessageLogEntry, error)
	CountByPassport(ctx context.Context, passportID uuid.UUID) (int64, error)
}
