package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosuda/relai/internal/domain"
	redisstore "github.com/gosuda/relai/internal/store/redis"
)

// Recovery rebuilds expired session memory from the durable store. Redis is
// a reconstructable cache: everything it held can be re-derived from the
// message log, the snapshot, and the passport.
type Recovery struct {
	mem       *redisstore.Memory
	messages  domain.MessageLogRepository
	snapshots domain.SnapshotRepository
	profiles  domain.ProfileRepository
	log       zerolog.Logger
}

func NewRecovery(
	mem *redisstore.Memory,
	messages domain.MessageLogRepository,
	snapshots domain.SnapshotRepository,
	profiles domain.ProfileRepository,
	log zerolog.Logger,
) *Recovery {
	return &Recovery{
		mem:       mem,
		messages:  messages,
		snapshots: snapshots,
		profiles:  profiles,
		log:       log,
	}
}

// EnsureLive makes sure the conversation has live session state, replaying
// durable history when the Redis keys have expired. It reports whether the
// caller owes the client a greeting: the conversation is either brand new,
// or nothing was ever answered and no summary absorbed the opening.
func (r *Recovery) EnsureLive(ctx context.Context, passport *domain.Passport) (bool, error) {
	lastSeq, err := r.mem.LastSeq(ctx)
	if err != nil {
		return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
	}
	if lastSeq > 0 {
		greet, err := r.needsGreeting(ctx)
		if err != nil {
			return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
		}
		return greet, nil
	}

	count, err := r.messages.CountByPassport(ctx, passport.ID)
	if err != nil {
		return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
	}
	if count == 0 {
		if err := r.hydrate(ctx, passport); err != nil {
			return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
		}
		if err := r.mem.SetStage(ctx, domain.StageAdding); err != nil {
			return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
		}
		return true, nil
	}

	if err := r.replay(ctx, passport); err != nil {
		return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
	}
	if err := r.hydrate(ctx, passport); err != nil {
		return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
	}

	greet, err := r.needsGreeting(ctx)
	if err != nil {
		return false, fmt.Errorf("chat.Recovery.EnsureLive: %w", err)
	}
	return greet, nil
}

// needsGreeting reports whether the client was never greeted: no assistant
// turn in the live window and no summary that could have absorbed one.
func (r *Recovery) needsGreeting(ctx context.Context) (bool, error) {
	summary, err := r.mem.Summary(ctx)
	if err != nil {
		return false, err
	}
	if summary != "" {
		return false, nil
	}
	window, err := r.mem.Window(ctx)
	if err != nil {
		return false, err
	}
	for _, turn := range window {
		if turn.Role == domain.RoleAssistant {
			return false, nil
		}
	}
	return true, nil
}

// replay rebuilds the live window from the snapshot cutoff, or from the
// full message log when no snapshot exists yet.
func (r *Recovery) replay(ctx context.Context, passport *domain.Passport) error {
	snap, err := r.snapshots.GetByPassport(ctx, passport.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	var (
		entries []*domain.MessageLogEntry
		cutoff  int64
		summary string
		stage   = domain.StageAnswering
	)

	if snap != nil {
		cutoff = snap.Cutoff
		summary = snap.Summary
		if snap.Stage.Valid() {
			stage = snap.Stage
		}
		entries, err = r.messages.ListAfter(ctx, passport.ID, snap.Cutoff)
	} else {
		// No snapshot means the whole history fits in the window. The stage
		// cannot be trusted in this case, so processing restarts at
		// answering.
		r.log.Warn().Stringer("passport_id", passport.ID).
			Msg("recovering session without snapshot, full replay")
		entries, err = r.messages.ListAll(ctx, passport.ID)
	}
	if err != nil {
		return err
	}

	if cutoff > 0 {
		if err = r.mem.SetSeqFloor(ctx, cutoff); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if _, err = r.mem.AppendTurn(ctx, domain.Turn{Role: e.Role, Text: e.Text}); err != nil {
			return err
		}
	}

	if err = r.mem.SetSummaryState(ctx, summary, cutoff, stage); err != nil {
		return err
	}

	r.log.Info().Stringer("passport_id", passport.ID).
		Int64("cutoff", cutoff).Int("replayed", len(entries)).
		Str("stage", string(stage)).Msg("session memory recovered")

	return nil
}

// hydrate mirrors durable per-user state into the live session.
func (r *Recovery) hydrate(ctx context.Context, passport *domain.Passport) error {
	if passport.Language != nil && *passport.Language != "" {
		if err := r.mem.SetLanguage(ctx, *passport.Language); err != nil {
			return err
		}
	}

	if len(passport.SearchQueries) > 0 {
		if err := r.mem.SetSearchQueries(ctx, passport.SearchQueries); err != nil {
			return err
		}
	}

	profile, err := r.profiles.GetByPassport(ctx, passport.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if profile != nil && profile.Content != "" {
		if err := r.mem.SetProfile(ctx, profile.Content); err != nil {
			return err
		}
	}

	return nil
}
