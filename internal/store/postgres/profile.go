package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gosuda/relai/internal/domain"
)

type ProfileRepo struct {
	db DB
}

func NewProfileRepo(db DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

func (r *ProfileRepo) GetByPassport(ctx context.Context, passportID uuid.UUID) (*domain.ProfileRecord, error) {
	var p domain.ProfileRecord

	err := r.db.QueryRow(ctx,
		`SELECT passport_id, content, cutoff, created_at, updated_at
		 FROM user_profiles WHERE passport_id = $1`,
		passportID,
	).Scan(&p.PassportID, &p.Content, &p.Cutoff, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("profileRepo.GetByPassport: %w", err)
	}

	return &p, nil
}

// Upsert overwrites the profile unless the stored row was produced by a
// later checkpoint.
func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.ProfileRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_profiles (passport_id, content, cutoff, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (passport_id)
		 DO UPDATE SET content = EXCLUDED.content, cutoff = EXCLUDED.cutoff, updated_at = NOW()
		 WHERE user_profiles.cutoff <= EXCLUDED.cutoff`,
		p.PassportID, p.Content, p.Cutoff,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.Upsert: %w", err)
	}

	return nil
}
