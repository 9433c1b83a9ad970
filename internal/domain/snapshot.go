package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the durable rolling summary of one conversation, at most one
// per passport. Cutoff is the sequence number up to which the summary absorbs
// history; recovery replays only log entries after it. Overwritten on each
// summarization pass, never appended.
type Snapshot struct {
	PassportID uuid.UUID
	Summary    string
	Cutoff     int64
	Stage      Stage
	UpdatedAt  time.Time
}

type SnapshotRepository interface {
	GetByPassport(ctx context.Context, passportID uuid.UUID) (*Snapshot, error)
	Upsert(ctx context.Context, s *Snapshot) error
	// SetStage updates only the last-known stage, creating an empty snapshot
	// row when none exists yet.
	SetStage(ctx context.Context, passportID uuid.UUID, stage Stage) error
}

// ProfileRecord is the durable extracted user profile for one conversation,
// at most one per passport. Overwritten on each extraction pass. Cutoff is
// the sequence number of the checkpoint that produced the content, so a
// late-running older checkpoint never replaces a newer profile.
type ProfileRecord struct {
	PassportID uuid.UUID
	Content    string
	Cutoff     int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ProfileRepository interface {
	GetByPassport(ctx context.Context, passportID uuid.UUID) (*ProfileRecord, error)
	Upsert(ctx context.Context, p *ProfileRecord) error
}

// TokenCounter tracks cumulative token spend in a single global counter row.
// Add must be an atomic upsert-increment so concurrent workers never lose
// updates.
type TokenCounter interface {
	Add(ctx context.Context, delta int64) error
	Total(ctx context.Context) (int64, error)
}
