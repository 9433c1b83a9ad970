package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gosuda/relai/internal/domain"
)

// MessageLogRepo is the append-only audit log of conversation turns.
// (passport_id, seq) is unique; rows are never updated or deleted.
type MessageLogRepo struct {
	db DB
}

func NewMessageLogRepo(db DB) *MessageLogRepo {
	return &MessageLogRepo{db: db}
}

func (r *MessageLogRepo) Append(ctx context.Context, e *domain.MessageLogEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_log_entries (passport_id, seq, role, stage, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.PassportID, e.Seq, e.Role, e.Stage, e.Text, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return fmt.Errorf("messageLogRepo.Append: %w", err)
	}

	return nil
}

func (r *MessageLogRepo) ListAfter(ctx context.Context, passportID uuid.UUID, afterSeq int64) ([]*domain.MessageLogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, passport_id, seq, role, stage, text, created_at
		 FROM chat_log_entries WHERE passport_id = $1 AND seq > $2
		 ORDER BY seq ASC`,
		passportID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("messageLogRepo.ListAfter: %w", err)
	}

	entries, err := scanLogEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("messageLogRepo.ListAfter: %w", err)
	}

	return entries, nil
}

func (r *MessageLogRepo) ListAll(ctx context.Context, passportID uuid.UUID) ([]*domain.MessageLogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, passport_id, seq, role, stage, text, created_at
		 FROM chat_log_entries WHERE passport_id = $1
		 ORDER BY seq ASC`,
		passportID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageLogRepo.ListAll: %w", err)
	}

	entries, err := scanLogEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("messageLogRepo.ListAll: %w", err)
	}

	return entries, nil
}

func (r *MessageLogRepo) CountByPassport(ctx context.Context, passportID uuid.UUID) (int64, error) {
	var count int64

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_log_entries WHERE passport_id = $1`,
		passportID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("messageLogRepo.CountByPassport: %w", err)
	}

	return count, nil
}

func scanLogEntries(rows pgx.Rows) ([]*domain.MessageLogEntry, error) {
	defer rows.Close()

	var entries []*domain.MessageLogEntry
	for rows.Next() {
		var e domain.MessageLogEntry

		err := rows.Scan(&e.ID, &e.PassportID, &e.Seq, &e.Role, &e.Stage, &e.Text, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return entries, nil
}
