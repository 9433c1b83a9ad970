package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gosuda/relai/internal/domain"
)

type PassportRepo struct {
	db DB
}

func NewPassportRepo(db DB) *PassportRepo {
	return &PassportRepo{db: db}
}

func (r *PassportRepo) Create(ctx context.Context, p *domain.Passport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_passports (id, user_ref, pipeline_name, pipeline_version, language, status, search_queries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserRef, p.PipelineName, p.PipelineVersion, p.Language, p.Status, p.SearchQueries, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("passportRepo.Create: %w", err)
	}

	return nil
}

func (r *PassportRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Passport, error) {
	var p domain.Passport

	err := r.db.QueryRow(ctx,
		`SELECT id, user_ref, pipeline_name, pipeline_version, language, status, search_queries, created_at, updated_at
		 FROM chat_passports WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.UserRef, &p.PipelineName, &p.PipelineVersion, &p.Language, &p.Status, &p.SearchQueries, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("passportRepo.GetByID: %w", err)
	}

	return &p, nil
}

func (r *PassportRepo) SetLanguage(ctx context.Context, id uuid.UUID, lang string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_passports SET language = $2, updated_at = NOW() WHERE id = $1`,
		id, lang,
	)
	if err != nil {
		return fmt.Errorf("passportRepo.SetLanguage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *PassportRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.PassportStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_passports SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("passportRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *PassportRepo) AppendSearchQuery(ctx context.Context, id uuid.UUID, query string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_passports
		 SET search_queries = search_queries || to_jsonb($2::text), updated_at = NOW()
		 WHERE id = $1`,
		id, query,
	)
	if err != nil {
		return fmt.Errorf("passportRepo.AppendSearchQuery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}
