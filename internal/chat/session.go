package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gosuda/relai/internal/domain"
	"github.com/gosuda/relai/internal/engine"
	redisstore "github.com/gosuda/relai/internal/store/redis"
	"github.com/gosuda/relai/internal/tasks"
)

// Session is the per-connection façade over one conversation. The transport
// layer feeds it inbound frames; replies flow back through the Delivery it
// was built with.
type Session struct {
	passport *domain.Passport
	mem      *redisstore.Memory
	stages   *StageManager
	recovery *Recovery
	delivery *Delivery
	limiter  *rate.Limiter
	enq      tasks.Enqueuer
	log      zerolog.Logger
	inboxCap int64
}

type SessionOptions struct {
	RatePerSec float64
	RateBurst  int
	InboxCap   int64
}

func NewSession(
	passport *domain.Passport,
	mem *redisstore.Memory,
	stages *StageManager,
	recovery *Recovery,
	delivery *Delivery,
	enq tasks.Enqueuer,
	log zerolog.Logger,
	opts SessionOptions,
) *Session {
	return &Session{
		passport: passport,
		mem:      mem,
		stages:   stages,
		recovery: recovery,
		delivery: delivery,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst),
		enq:      enq,
		log:      log,
		inboxCap: opts.InboxCap,
	}
}

// Start prepares the conversation for this connection: recover expired
// session memory, greet a brand new conversation, and replay anything that
// could not be delivered while the client was away.
func (s *Session) Start(ctx context.Context) error {
	fresh, err := s.recovery.EnsureLive(ctx, s.passport)
	if err != nil {
		s.stages.notify(ctx, msgMemoryError)
		return err
	}

	if fresh {
		s.greet(ctx)
	}

	if err := s.delivery.FlushPending(ctx); err != nil {
		s.log.Warn().Err(err).Msg("pending replay interrupted, remainder stays buffered")
	}

	return nil
}

// HandleMessage takes one inbound user message. Rejections are reported to
// the client and never abort the connection.
func (s *Session) HandleMessage(ctx context.Context, text string) {
	if !s.limiter.Allow() {
		s.stages.notify(ctx, msgRateLimited)
		return
	}

	var verr *ValidationError
	if err := ValidateMessage(text); err != nil {
		if errors.As(err, &verr) {
			s.stages.notify(ctx, "Validation error: "+verr.Reason)
		}
		return
	}

	queued, err := s.mem.InboxLen(ctx)
	if err != nil {
		s.stages.notify(ctx, msgMemoryError)
		return
	}
	if queued >= s.inboxCap {
		s.stages.notify(ctx, msgBusy)
		return
	}

	if err := s.mem.PushInbox(ctx, text); err != nil {
		s.log.Error().Err(err).Msg("failed to queue inbound message")
		s.stages.notify(ctx, msgMemoryError)
		return
	}

	// Processing outlives the request: a disconnect mid-generation must not
	// abandon the queued message.
	go s.stages.ProcessInbox(context.WithoutCancel(ctx))
}

// HandleStop archives the conversation at the client's request.
func (s *Session) HandleStop(ctx context.Context) {
	if err := s.enq.Enqueue(ctx, tasks.TypeArchivePassport, tasks.ArchivePassportPayload{
		PassportID: s.passport.ID,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to schedule passport archival")
	}
}

// greet opens a brand new conversation. A short-circuited backend skips the
// greeting silently; the conversation still works once the first message
// arrives.
func (s *Session) greet(ctx context.Context) {
	lang, err := s.mem.Language(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read language for greeting")
		return
	}

	reply, err := s.stages.assistant.Greet(ctx, lang)
	if errors.Is(err, engine.ErrCircuitOpen) {
		s.log.Warn().Msg("greeting skipped, generation circuit open")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("greeting generation failed")
		return
	}
	s.stages.recordTokens(ctx, reply.TokensSpent)

	text := engine.StripReasoning(reply.Text)
	if text == "" {
		return
	}

	if err := s.delivery.Deliver(ctx, KindAssistant, text); err != nil {
		s.log.Warn().Err(err).Msg("greeting buffered for later delivery")
	}
	if _, err := s.stages.appendAndLog(ctx, domain.RoleAssistant, domain.StageAdding, text); err != nil {
		s.log.Error().Err(err).Msg("failed to record greeting turn")
	}
}
