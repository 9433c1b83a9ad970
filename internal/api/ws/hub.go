package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relai/internal/chat"
	"github.com/gosuda/relai/internal/config"
	"github.com/gosuda/relai/internal/domain"
	"github.com/gosuda/relai/internal/engine"
	"github.com/gosuda/relai/internal/store/postgres"
	redisstore "github.com/gosuda/relai/internal/store/redis"
	"github.com/gosuda/relai/internal/tasks"
)

// Hub accepts chat websocket connections and assembles the per-conversation
// session stack for each one.
type Hub struct {
	cfg       *config.Config
	store     *postgres.Store
	redis     *goredis.Client
	assistant *engine.Assistant
	retriever engine.Retriever
	enq       tasks.Enqueuer

	active atomic.Int64
}

func NewHub(cfg *config.Config, store *postgres.Store, redis *goredis.Client, assistant *engine.Assistant, retriever engine.Retriever, enq tasks.Enqueuer) *Hub {
	return &Hub{
		cfg:       cfg,
		store:     store,
		redis:     redis,
		assistant: assistant,
		retriever: retriever,
		enq:       enq,
	}
}

// ActiveConnections reports the number of live chat sockets.
func (h *Hub) ActiveConnections() int64 {
	return h.active.Load()
}

// ServeChat handles one chat websocket connection for the passport in the
// URL. Policy violations close the socket with a code rather than an HTTP
// error so the client always gets a close frame it can act on.
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	if h.active.Add(1) > int64(h.cfg.Chat.MaxConnections) {
		h.active.Add(-1)
		_ = conn.Close(websocket.StatusTryAgainLater, "connection limit reached")
		return
	}
	defer h.active.Add(-1)

	ctx := r.Context()

	passport, ok := h.admit(ctx, conn, chi.URLParam(r, "passportID"))
	if !ok {
		return
	}

	logger := log.With().Stringer("passport_id", passport.ID).Logger()

	mem := redisstore.NewMemory(h.redis, passport.ID, h.cfg.Chat.SessionTTL, h.cfg.Chat.BufferTTL)
	lock := redisstore.NewLock(h.redis, passport.ID, h.cfg.Chat.LockTTL)
	transport := newConnTransport(conn)
	defer transport.markClosed()

	delivery := chat.NewDelivery(transport, mem, logger, chat.DeliveryOptions{
		Retries:     h.cfg.Chat.SendRetries,
		SendTimeout: h.cfg.Chat.SendTimeout,
		BufferCap:   h.cfg.Chat.PendingCap,
	})
	stages := chat.NewStageManager(passport.ID, mem, lock, h.assistant, h.retriever,
		h.enq, delivery, logger, h.cfg.Chat.WindowSize, h.cfg.Engine.TopK)
	recovery := chat.NewRecovery(mem, h.store.Messages(), h.store.Snapshots(),
		h.store.Profiles(), logger)
	session := chat.NewSession(passport, mem, stages, recovery, delivery, h.enq, logger,
		chat.SessionOptions{
			RatePerSec: h.cfg.Chat.RatePerSec,
			RateBurst:  h.cfg.Chat.RateBurst,
			InboxCap:   h.cfg.Chat.InboxCap,
		})

	if err := session.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("session start failed")
		_ = conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}

	h.readLoop(ctx, conn, session, logger)
}

// admit validates the passport reference before any message is processed.
func (h *Hub) admit(ctx context.Context, conn *websocket.Conn, rawID string) (*domain.Passport, bool) {
	passport, err := lookupActive(ctx, h.store.Passports(), rawID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid passport")
		return nil, false
	case errors.Is(err, domain.ErrPassportClosed):
		_ = conn.Close(websocket.StatusPolicyViolation, "passport closed")
		return nil, false
	case err != nil:
		log.Error().Err(err).Msg("passport lookup failed")
		_ = conn.Close(websocket.StatusInternalError, "passport lookup failed")
		return nil, false
	}

	return passport, true
}

// lookupActive resolves a raw passport id to its active passport. A
// malformed id reads as not found; a completed or archived passport is
// rejected with ErrPassportClosed.
func lookupActive(ctx context.Context, passports domain.PassportRepository, rawID string) (*domain.Passport, error) {
	passportID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	passport, err := passports.GetByID(ctx, passportID)
	if err != nil {
		return nil, err
	}
	if passport.Status != domain.PassportStatusActive {
		return nil, domain.ErrPassportClosed
	}

	return passport, nil
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, session *chat.Session, logger zerolog.Logger) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, h.cfg.Chat.IdleTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				_ = conn.Close(websocket.StatusGoingAway, "idle timeout")
				return
			}
			logger.Debug().Err(err).Msg("websocket read ended")
			return
		}

		frame := decodeFrame(data)
		switch frame.Type {
		case FrameStop:
			session.HandleStop(ctx)
			_ = conn.Close(websocket.StatusNormalClosure, "conversation archived")
			return
		case FrameMessage:
			session.HandleMessage(ctx, frame.Text)
		default:
			logger.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
		}
	}
}

// decodeFrame parses an inbound frame, accepting bare text as a message for
// simple clients. The literal "STOP" ends the conversation.
func decodeFrame(data []byte) InboundFrame {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Type != "" {
		return frame
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "STOP" {
		return InboundFrame{Type: FrameStop}
	}
	return InboundFrame{Type: FrameMessage, Text: text}
}
