package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gosuda/relai/internal/domain"
)

// SnapshotRepo holds at most one rolling-summary row per passport; Upsert
// overwrites rather than appending.
type SnapshotRepo struct {
	db DB
}

func NewSnapshotRepo(db DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func (r *SnapshotRepo) GetByPassport(ctx context.Context, passportID uuid.UUID) (*domain.Snapshot, error) {
	var s domain.Snapshot

	err := r.db.QueryRow(ctx,
		`SELECT passport_id, summary, cutoff, stage, updated_at
		 FROM chat_snapshots WHERE passport_id = $1`,
		passportID,
	).Scan(&s.PassportID, &s.Summary, &s.Cutoff, &s.Stage, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("snapshotRepo.GetByPassport: %w", err)
	}

	return &s, nil
}

// Upsert overwrites the snapshot unless the stored row already absorbs a
// later cutoff; the cutoff never regresses.
func (r *SnapshotRepo) Upsert(ctx context.Context, s *domain.Snapshot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_snapshots (passport_id, summary, cutoff, stage, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (passport_id)
		 DO UPDATE SET summary = EXCLUDED.summary, cutoff = EXCLUDED.cutoff,
		               stage = EXCLUDED.stage, updated_at = NOW()
		 WHERE chat_snapshots.cutoff <= EXCLUDED.cutoff`,
		s.PassportID, s.Summary, s.Cutoff, s.Stage,
	)
	if err != nil {
		return fmt.Errorf("snapshotRepo.Upsert: %w", err)
	}

	return nil
}

func (r *SnapshotRepo) SetStage(ctx context.Context, passportID uuid.UUID, stage domain.Stage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_snapshots (passport_id, summary, cutoff, stage, updated_at)
		 VALUES ($1, '', 0, $2, NOW())
		 ON CONFLICT (passport_id)
		 DO UPDATE SET stage = EXCLUDED.stage, updated_at = NOW()`,
		passportID, stage,
	)
	if err != nil {
		return fmt.Errorf("snapshotRepo.SetStage: %w", err)
	}

	return nil
}
