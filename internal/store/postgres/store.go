package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/relai/internal/domain"
)

// DB is the subset of pgxpool.Pool and pgx.Tx the repositories need, so the
// same repository code runs against the pool or inside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool      *pgxpool.Pool
	passports *PassportRepo
	messages  *MessageLogRepo
	snapshots *SnapshotRepo
	profiles  *ProfileRepo
	tokens    *TokenRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return newStore(pool, pool), nil
}

func newStore(db DB, pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		passports: NewPassportRepo(db),
		messages:  NewMessageLogRepo(db),
		snapshots: NewSnapshotRepo(db),
		profiles:  NewProfileRepo(db),
		tokens:    NewTokenRepo(db),
	}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Passports() domain.PassportRepository   { return s.passports }
func (s *Store) Messages() domain.MessageLogRepository  { return s.messages }
func (s *Store) Snapshots() domain.SnapshotRepository   { return s.snapshots }
func (s *Store) Profiles() domain.ProfileRepository     { return s.profiles }
func (s *Store) Tokens() domain.TokenCounter            { return s.tokens }
