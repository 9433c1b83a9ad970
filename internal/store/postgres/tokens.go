package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TokenRepo tracks cumulative token spend in a single global counter row.
type TokenRepo struct {
	db DB
}

func NewTokenRepo(db DB) *TokenRepo {
	return &TokenRepo{db: db}
}

// Add increments the counter with a single upsert statement. The increment
// happens inside the database, never as read-then-write, so concurrent
// workers cannot lose updates.
func (r *TokenRepo) Add(ctx context.Context, delta int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO token_stats (id, tokens_spent, updated_at)
		 VALUES (1, $1, NOW())
		 ON CONFLICT (id)
		 DO UPDATE SET tokens_spent = token_stats.tokens_spent + EXCLUDED.tokens_spent,
		               updated_at = NOW()`,
		delta,
	)
	if err != nil {
		return fmt.Errorf("tokenRepo.Add: %w", err)
	}

	return nil
}

func (r *TokenRepo) Total(ctx context.Context) (int64, error) {
	var total int64

	err := r.db.QueryRow(ctx, `SELECT tokens_spent FROM token_stats WHERE id = 1`).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("tokenRepo.Total: %w", err)
	}

	return total, nil
}
