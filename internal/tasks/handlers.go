package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relai/internal/domain"
	"github.com/gosuda/relai/internal/engine"
	"github.com/gosuda/relai/internal/store/postgres"
	redisstore "github.com/gosuda/relai/internal/store/redis"
)

// minAbsorbTurns is the smallest number of new turns worth feeding to the
// summarizer or profiler. Smaller checkpoints are skipped and absorbed by a
// later one.
const minAbsorbTurns = 4

// Handlers implements the background job processors. Durable writes run
// inside an advisory-locked transaction keyed by the passport so concurrent
// workers for the same conversation serialize.
type Handlers struct {
	store      *postgres.Store
	redis      *goredis.Client
	assistant  *engine.Assistant
	sessionTTL time.Duration
	bufferTTL  time.Duration
}

func NewHandlers(store *postgres.Store, redis *goredis.Client, assistant *engine.Assistant, sessionTTL, bufferTTL time.Duration) *Handlers {
	return &Handlers{
		store:      store,
		redis:      redis,
		assistant:  assistant,
		sessionTTL: sessionTTL,
		bufferTTL:  bufferTTL,
	}
}

// Mux routes every task type to its handler.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeLogMessage, h.HandleLogMessage)
	mux.HandleFunc(TypeUpdateSummary, h.HandleUpdateSummary)
	mux.HandleFunc(TypeUpdateProfile, h.HandleUpdateProfile)
	mux.HandleFunc(TypeUpdateStage, h.HandleUpdateStage)
	mux.HandleFunc(TypeSetLanguage, h.HandleSetLanguage)
	mux.HandleFunc(TypeAddSearchQuery, h.HandleAddSearchQuery)
	mux.HandleFunc(TypeUpdateTokens, h.HandleUpdateTokens)
	mux.HandleFunc(TypeArchivePassport, h.HandleArchivePassport)
	return mux
}

func (h *Handlers) memory(passportID uuid.UUID) *redisstore.Memory {
	return redisstore.NewMemory(h.redis, passportID, h.sessionTTL, h.bufferTTL)
}

func (h *Handlers) HandleLogMessage(ctx context.Context, task *asynq.Task) error {
	var p LogMessagePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleLogMessage: %w", err)
	}

	err := h.store.WithTxLock(ctx, p.PassportID, func(tx *postgres.Store) error {
		return tx.Messages().Append(ctx, &domain.MessageLogEntry{
			PassportID: p.PassportID,
			Seq:        p.Seq,
			Role:       p.Role,
			Stage:      p.Stage,
			Text:       p.Text,
			CreatedAt:  time.Now(),
		})
	})
	if errors.Is(err, domain.ErrConflict) {
		// A retried task after a partial failure; the turn is already logged.
		return nil
	}
	if err != nil {
		return fmt.Errorf("tasks.HandleLogMessage: %w", err)
	}
	return nil
}

// HandleUpdateSummary runs one summarization checkpoint. The whole body,
// prior-state read through snapshot write, runs under the conversation's
// advisory lock so two in-flight checkpoints cannot interleave their reads
// and writes.
func (h *Handlers) HandleUpdateSummary(ctx context.Context, task *asynq.Task) error {
	var p CheckpointPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleUpdateSummary: %w", err)
	}

	var reply engine.Reply
	applied := false

	err := h.store.WithTxLock(ctx, p.PassportID, func(tx *postgres.Store) error {
		prior := ""
		snap, err := tx.Snapshots().GetByPassport(ctx, p.PassportID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if snap != nil {
			if staleCheckpoint(snap.Cutoff, p.Cutoff) {
				log.Debug().Stringer("passport_id", p.PassportID).Int64("cutoff", p.Cutoff).
					Msg("skipping summary checkpoint, snapshot already past cutoff")
				return nil
			}
			prior = snap.Summary
		}

		turns, err := h.absorbTurns(ctx, p)
		if err != nil {
			return err
		}
		if len(turns) < minAbsorbTurns {
			log.Debug().Stringer("passport_id", p.PassportID).Int("turns", len(turns)).
				Msg("skipping summary checkpoint, too few new turns")
			return nil
		}

		r, err := h.assistant.Summarize(ctx, prior, turns)
		if err != nil {
			return err
		}

		if err := tx.Snapshots().Upsert(ctx, &domain.Snapshot{
			PassportID: p.PassportID,
			Summary:    r.Text,
			Cutoff:     p.Cutoff,
			Stage:      p.Stage,
		}); err != nil {
			return err
		}

		reply = r
		applied = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("tasks.HandleUpdateSummary: %w", err)
	}
	if !applied {
		return nil
	}

	// Mirror to the live session and drop absorbed turns from the window.
	// The durable snapshot is already committed, so a failure here only
	// leaves the window longer than necessary until the next checkpoint.
	mem := h.memory(p.PassportID)
	if err = mem.SetSummaryState(ctx, reply.Text, p.Cutoff, ""); err != nil {
		log.Error().Err(err).Stringer("passport_id", p.PassportID).
			Msg("failed to mirror summary to session memory")
	} else if err = mem.TrimWindowThrough(ctx, p.Cutoff); err != nil {
		log.Error().Err(err).Stringer("passport_id", p.PassportID).
			Msg("failed to trim session window")
	}

	if reply.TokensSpent > 0 {
		if err = h.store.Tokens().Add(ctx, reply.TokensSpent); err != nil {
			log.Error().Err(err).Msg("failed to record summary token spend")
		}
	}

	return nil
}

// HandleUpdateProfile runs one profile-extraction checkpoint under the same
// advisory-lock discipline as HandleUpdateSummary.
func (h *Handlers) HandleUpdateProfile(ctx context.Context, task *asynq.Task) error {
	var p CheckpointPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleUpdateProfile: %w", err)
	}

	var reply engine.Reply
	applied := false

	err := h.store.WithTxLock(ctx, p.PassportID, func(tx *postgres.Store) error {
		prior := ""
		record, err := tx.Profiles().GetByPassport(ctx, p.PassportID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if record != nil {
			if staleCheckpoint(record.Cutoff, p.Cutoff) {
				log.Debug().Stringer("passport_id", p.PassportID).Int64("cutoff", p.Cutoff).
					Msg("skipping profile checkpoint, profile already past cutoff")
				return nil
			}
			prior = record.Content
		}

		turns, err := h.absorbTurns(ctx, p)
		if err != nil {
			return err
		}
		if len(turns) < minAbsorbTurns {
			log.Debug().Stringer("passport_id", p.PassportID).Int("turns", len(turns)).
				Msg("skipping profile checkpoint, too few new turns")
			return nil
		}

		r, err := h.assistant.Profile(ctx, prior, turns)
		if err != nil {
			return err
		}

		if err := tx.Profiles().Upsert(ctx, &domain.ProfileRecord{
			PassportID: p.PassportID,
			Content:    r.Text,
			Cutoff:     p.Cutoff,
		}); err != nil {
			return err
		}

		reply = r
		applied = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("tasks.HandleUpdateProfile: %w", err)
	}
	if !applied {
		return nil
	}

	if err = h.memory(p.PassportID).SetProfile(ctx, reply.Text); err != nil {
		log.Error().Err(err).Stringer("passport_id", p.PassportID).
			Msg("failed to mirror profile to session memory")
	}

	if reply.TokensSpent > 0 {
		if err = h.store.Tokens().Add(ctx, reply.TokensSpent); err != nil {
			log.Error().Err(err).Msg("failed to record profile token spend")
		}
	}

	return nil
}

// staleCheckpoint reports whether a durable record already absorbs the
// checkpoint's cutoff. Checkpoints can complete out of order when a worker
// stalls; a stale one is a no-op.
func staleCheckpoint(absorbed, cutoff int64) bool {
	return absorbed >= cutoff
}

// absorbTurns loads the turns a checkpoint covers from the live window. The
// window is written synchronously on the interactive path, so every turn
// through the cutoff is present; the durable log lags behind it because
// audit writes ride the same queue as this task.
func (h *Handlers) absorbTurns(ctx context.Context, p CheckpointPayload) ([]domain.Turn, error) {
	return h.memory(p.PassportID).WindowThrough(ctx, p.Cutoff)
}

func (h *Handlers) HandleUpdateStage(ctx context.Context, task *asynq.Task) error {
	var p UpdateStagePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleUpdateStage: %w", err)
	}

	err := h.store.WithTxLock(ctx, p.PassportID, func(tx *postgres.Store) error {
		return tx.Snapshots().SetStage(ctx, p.PassportID, p.Stage)
	})
	if err != nil {
		return fmt.Errorf("tasks.HandleUpdateStage: %w", err)
	}
	return nil
}

func (h *Handlers) HandleSetLanguage(ctx context.Context, task *asynq.Task) error {
	var p SetLanguagePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleSetLanguage: %w", err)
	}

	if err := h.store.Passports().SetLanguage(ctx, p.PassportID, p.Language); err != nil {
		return fmt.Errorf("tasks.HandleSetLanguage: %w", err)
	}
	return nil
}

func (h *Handlers) HandleAddSearchQuery(ctx context.Context, task *asynq.Task) error {
	var p AddSearchQueryPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleAddSearchQuery: %w", err)
	}

	if err := h.store.Passports().AppendSearchQuery(ctx, p.PassportID, p.Query); err != nil {
		return fmt.Errorf("tasks.HandleAddSearchQuery: %w", err)
	}
	return nil
}

func (h *Handlers) HandleUpdateTokens(ctx context.Context, task *asynq.Task) error {
	var p UpdateTokensPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleUpdateTokens: %w", err)
	}

	if err := h.store.Tokens().Add(ctx, p.Delta); err != nil {
		return fmt.Errorf("tasks.HandleUpdateTokens: %w", err)
	}
	return nil
}

func (h *Handlers) HandleArchivePassport(ctx context.Context, task *asynq.Task) error {
	var p ArchivePassportPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks.HandleArchivePassport: %w", err)
	}

	if err := h.store.Passports().SetStatus(ctx, p.PassportID, domain.PassportStatusArchived); err != nil {
		return fmt.Errorf("tasks.HandleArchivePassport: %w", err)
	}

	if err := h.memory(p.PassportID).Evict(ctx); err != nil {
		log.Error().Err(err).Stringer("passport_id", p.PassportID).
			Msg("failed to evict session memory for archived passport")
	}

	return nil
}
