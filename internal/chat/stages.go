package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gosuda/relai/internal/domain"
	"github.com/gosuda/relai/internal/engine"
	redisstore "github.com/gosuda/relai/internal/store/redis"
	"github.com/gosuda/relai/internal/tasks"
)

// Fixed user-facing notices. These exact strings reach the client, possibly
// translated into the conversation language first.
const (
	msgGenericError = "Sorry, something went wrong."
	msgUnavailable  = "The chat is temporary unavailable."
	msgRateLimited  = "Too many messages. Slow down."
	msgBusy         = "System busy. Please wait."
	msgMemoryError  = "Temporary memory error. Try again later."
	msgRephrase     = "Please try rephrasing your request."
	msgHandoff      = "The answer is not found, You are now switched to the test mode"
	msgNoAnswer     = "No relevant answer was found in the indexed documents."
)

// StageManager runs the per-conversation processing cycle: drain queued
// messages, generate a reply for the current stage, persist, and advance
// the stage machine.
type StageManager struct {
	passportID uuid.UUID
	mem        *redisstore.Memory
	lock       *redisstore.Lock
	assistant  *engine.Assistant
	retriever  engine.Retriever
	enq        tasks.Enqueuer
	delivery   *Delivery
	log        zerolog.Logger

	windowSize int64
	topK       int
}

func NewStageManager(
	passportID uuid.UUID,
	mem *redisstore.Memory,
	lock *redisstore.Lock,
	assistant *engine.Assistant,
	retriever engine.Retriever,
	enq tasks.Enqueuer,
	delivery *Delivery,
	log zerolog.Logger,
	windowSize int64,
	topK int,
) *StageManager {
	return &StageManager{
		passportID: passportID,
		mem:        mem,
		lock:       lock,
		assistant:  assistant,
		retriever:  retriever,
		enq:        enq,
		delivery:   delivery,
		log:        log,
		windowSize: windowSize,
		topK:       topK,
	}
}

// ProcessInbox drains and answers queued messages. The conversation lock is
// acquired per cycle and released before re-entering, so each pass over a
// backlog starts on a fresh lock TTL. When another holder owns the lock the
// call returns immediately: the queued messages will be picked up by the
// holder's own drain loop.
func (m *StageManager) ProcessInbox(ctx context.Context) {
	for {
		acquired, err := m.lock.TryAcquire(ctx)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to acquire processing lock")
			return
		}
		if !acquired {
			return
		}

		empty := m.runCycle(ctx)

		if err := m.lock.Release(context.WithoutCancel(ctx)); err != nil {
			m.log.Error().Err(err).Msg("failed to release processing lock")
		}
		if empty {
			return
		}
	}
}

// runCycle drains and processes one batch. It reports whether the inbox was
// already empty, which ends the caller's loop.
func (m *StageManager) runCycle(ctx context.Context) bool {
	queued, err := m.mem.DrainInbox(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to drain inbox")
		m.notify(ctx, msgMemoryError)
		return true
	}
	if len(queued) == 0 {
		return true
	}

	if err := m.processTurns(ctx, queued); err != nil {
		m.log.Error().Err(err).Msg("processing cycle failed")
		if errors.Is(err, engine.ErrCircuitOpen) {
			m.notify(ctx, m.translated(ctx, msgUnavailable))
		} else {
			m.notify(ctx, msgGenericError)
		}
	}

	if err := m.mem.ClearProcessing(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to clear processing marker")
	}
	return false
}

// processTurns appends every drained user turn to the window, each with its
// own sequence number and audit record, then generates one reply for the
// most recent turn.
func (m *StageManager) processTurns(ctx context.Context, texts []string) error {
	lang, err := m.ensureLanguage(ctx, texts[0])
	if err != nil {
		return err
	}

	stage, err := m.currentStage(ctx)
	if err != nil {
		return err
	}

	for _, text := range texts {
		if _, err = m.appendAndLog(ctx, domain.RoleUser, stage, text); err != nil {
			return err
		}
	}

	if stage == domain.StageAdding {
		stage = m.setStage(ctx, stage, domain.StageAnswering)
	}

	latest := texts[len(texts)-1]

	switch stage {
	case domain.StageTest:
		return m.replyFromHistory(ctx, lang)
	default:
		return m.answer(ctx, latest, lang)
	}
}

// answer handles the answering stage: classify repetition, retrieve, and
// generate a grounded reply. Every path through it ends in the test stage.
func (m *StageManager) answer(ctx context.Context, query, lang string) error {
	previous, err := m.mem.SearchQueries(ctx)
	if err != nil {
		return err
	}

	repeat, spent, err := m.assistant.IsRepeat(ctx, query, previous)
	if err != nil {
		return err
	}
	m.recordTokens(ctx, spent)

	if repeat {
		return m.concludeAnswering(ctx, m.translated(ctx, msgRephrase))
	}

	if err = m.mem.AddSearchQuery(ctx, query); err != nil {
		return err
	}
	m.enqueue(ctx, tasks.TypeAddSearchQuery, tasks.AddSearchQueryPayload{
		PassportID: m.passportID,
		Query:      query,
	})

	snippets, err := m.retriever.Retrieve(ctx, query, m.topK)
	if err != nil {
		return err
	}
	if len(snippets) == 0 {
		return m.concludeAnswering(ctx, m.translated(ctx, msgHandoff))
	}

	summary, err := m.mem.Summary(ctx)
	if err != nil {
		return err
	}
	profile, err := m.mem.Profile(ctx)
	if err != nil {
		return err
	}

	reply, err := m.assistant.Answer(ctx, query, snippets, summary, profile, lang)
	if err != nil {
		return err
	}
	m.recordTokens(ctx, reply.TokensSpent)

	text := engine.StripReasoning(reply.Text)
	if text == "" || strings.EqualFold(text, engine.HandoffMarker) {
		return m.concludeAnswering(ctx, m.translated(ctx, msgHandoff))
	}

	return m.concludeAnswering(ctx, text)
}

// concludeAnswering delivers the assistant reply, records it, and moves the
// conversation into the test stage.
func (m *StageManager) concludeAnswering(ctx context.Context, text string) error {
	if err := m.deliverAssistant(ctx, text, domain.StageAnswering); err != nil {
		return err
	}
	m.setStage(ctx, domain.StageAnswering, domain.StageTest)
	return nil
}

// replyFromHistory handles the test stage: answer from the live window
// without retrieval.
func (m *StageManager) replyFromHistory(ctx context.Context, lang string) error {
	window, err := m.mem.Window(ctx)
	if err != nil {
		return err
	}
	summary, err := m.mem.Summary(ctx)
	if err != nil {
		return err
	}
	profile, err := m.mem.Profile(ctx)
	if err != nil {
		return err
	}

	reply, err := m.assistant.AnswerFromHistory(ctx, window, summary, profile, lang)
	if err != nil {
		return err
	}
	m.recordTokens(ctx, reply.TokensSpent)

	text := engine.StripReasoning(reply.Text)
	if text == "" {
		text = m.translated(ctx, msgNoAnswer)
	}

	return m.deliverAssistant(ctx, text, domain.StageTest)
}

// deliverAssistant sends a reply to the client and records it as an
// assistant turn, enqueueing summarization checkpoints when the turn lands
// on a window boundary.
func (m *StageManager) deliverAssistant(ctx context.Context, text string, stage domain.Stage) error {
	if err := m.delivery.Deliver(ctx, KindAssistant, text); err != nil {
		m.log.Warn().Err(err).Msg("assistant reply buffered for later delivery")
	}

	seq, err := m.appendAndLog(ctx, domain.RoleAssistant, stage, text)
	if err != nil {
		return err
	}

	if seq%m.windowSize == 0 {
		m.checkpoint(ctx, seq, stage)
	}

	return nil
}

// appendAndLog writes one turn to the live window and schedules its durable
// audit record.
func (m *StageManager) appendAndLog(ctx context.Context, role domain.Role, stage domain.Stage, text string) (int64, error) {
	seq, err := m.mem.AppendTurn(ctx, domain.Turn{Role: role, Text: text})
	if err != nil {
		return 0, err
	}

	m.enqueue(ctx, tasks.TypeLogMessage, tasks.LogMessagePayload{
		PassportID: m.passportID,
		Seq:        seq,
		Role:       role,
		Stage:      stage,
		Text:       text,
	})

	return seq, nil
}

// checkpoint schedules summary and profile updates covering the turns since
// the previous cutoff.
func (m *StageManager) checkpoint(ctx context.Context, seq int64, stage domain.Stage) {
	prevCutoff, err := m.mem.Cutoff(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to read cutoff for checkpoint")
		return
	}

	payload := tasks.CheckpointPayload{
		PassportID: m.passportID,
		PrevCutoff: prevCutoff,
		Cutoff:     seq,
		Stage:      stage,
	}
	m.enqueue(ctx, tasks.TypeUpdateSummary, payload)
	m.enqueue(ctx, tasks.TypeUpdateProfile, payload)
}

// ensureLanguage detects the conversation language from the first user
// message. Detection runs once; later turns reuse the stored language.
func (m *StageManager) ensureLanguage(ctx context.Context, text string) (string, error) {
	lang, err := m.mem.Language(ctx)
	if err != nil {
		return "", err
	}
	if lang != "" {
		return lang, nil
	}

	lang, spent, err := m.assistant.DetectLanguage(ctx, text)
	if err != nil {
		return "", err
	}
	m.recordTokens(ctx, spent)

	if err = m.mem.SetLanguage(ctx, lang); err != nil {
		return "", err
	}
	m.enqueue(ctx, tasks.TypeSetLanguage, tasks.SetLanguagePayload{
		PassportID: m.passportID,
		Language:   lang,
	})

	return lang, nil
}

// currentStage reads the live stage, repairing an unknown or missing value
// to answering.
func (m *StageManager) currentStage(ctx context.Context) (domain.Stage, error) {
	stage, err := m.mem.Stage(ctx)
	if err != nil {
		return "", err
	}
	if !stage.Valid() {
		if stage != "" {
			m.log.Error().Str("stage", string(stage)).Msg("unknown stage value, forcing answering")
		}
		stage = domain.StageAnswering
		if err := m.mem.SetStage(ctx, stage); err != nil {
			return "", err
		}
	}
	return stage, nil
}

// setStage advances the stage machine. An illegal transition is logged and
// forced to answering instead of failing the cycle.
func (m *StageManager) setStage(ctx context.Context, from, to domain.Stage) domain.Stage {
	if !from.ValidTransition(to) {
		m.log.Error().Str("from", string(from)).Str("to", string(to)).
			Msg("illegal stage transition, forcing answering")
		to = domain.StageAnswering
	}

	if err := m.mem.SetStage(ctx, to); err != nil {
		m.log.Error().Err(err).Str("stage", string(to)).Msg("failed to set live stage")
		return to
	}

	if to != from {
		m.enqueue(ctx, tasks.TypeUpdateStage, tasks.UpdateStagePayload{
			PassportID: m.passportID,
			Stage:      to,
		})
	}

	return to
}

// translated renders a fixed notice in the conversation language, falling
// back to the English original when translation is unavailable.
func (m *StageManager) translated(ctx context.Context, text string) string {
	lang, err := m.mem.Language(ctx)
	if err != nil || lang == "" || lang == "English" {
		return text
	}

	reply, err := m.assistant.Translate(ctx, text, lang)
	if err != nil {
		return text
	}
	m.recordTokens(ctx, reply.TokensSpent)

	translated := engine.StripReasoning(reply.Text)
	if translated == "" {
		return text
	}
	return translated
}

// enqueue schedules a background task, logging and dropping on failure.
// Durable mirrors are best-effort; the live session state stays correct.
func (m *StageManager) enqueue(ctx context.Context, taskType string, payload any) {
	if err := m.enq.Enqueue(ctx, taskType, payload); err != nil {
		m.log.Error().Err(err).Str("task", taskType).Msg("failed to schedule background task")
	}
}

func (m *StageManager) recordTokens(ctx context.Context, spent int64) {
	if spent <= 0 {
		return
	}
	m.enqueue(ctx, tasks.TypeUpdateTokens, tasks.UpdateTokensPayload{Delta: spent})
}

// notify sends a system notice straight to the client without recording a
// turn.
func (m *StageManager) notify(ctx context.Context, text string) {
	if err := m.delivery.Deliver(ctx, KindSystem, text); err != nil {
		m.log.Warn().Err(err).Msg("system notice buffered for later delivery")
	}
}
