package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// LockKey derives a stable 63-bit advisory lock key from a passport id.
// Every maintenance worker computes the same key for the same conversation.
func LockKey(passportID uuid.UUID) int64 {
	sum := sha256.Sum256([]byte(passportID.String()))
	return int64(binary.BigEndian.Uint64(sum[:8]) &^ (uint64(1) << 63)) //nolint:gosec // top bit cleared
}

// WithTxLock runs fn inside a transaction whose first statement takes the
// conversation-scoped exclusive advisory lock. The lock is transaction-scoped
// (pg_advisory_xact_lock), so lock acquisition and the protected writes share
// commit/rollback atomicity, and the lock is released on either outcome.
// Repositories obtained from the Store passed to fn write through the
// transaction.
func (s *Store) WithTxLock(ctx context.Context, passportID uuid.UUID, fn func(txStore *Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres.WithTxLock: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, LockKey(passportID))
	if err != nil {
		return fmt.Errorf("postgres.WithTxLock: acquire: %w", err)
	}

	err = fn(newStore(tx, nil))
	if err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("postgres.WithTxLock: commit: %w", err)
	}

	return nil
}
