package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gosuda/relai/internal/domain"
)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.NewClient: ping: %w", err)
	}

	return client, nil
}

// appendTurn atomically bumps the per-conversation sequence counter and
// inserts the payload into the window at that score, refreshing both TTLs.
// Concurrent appenders never collide because the INCR and ZADD run as one
// script.
var appendTurn = redis.NewScript(`
local idx = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
redis.call("ZADD", KEYS[2], idx, ARGV[1])
redis.call("EXPIRE", KEYS[2], ARGV[2])
return idx
`)

// Memory is the live working state of one conversation in Redis. All keys
// are scoped by the passport id and carry a sliding TTL refreshed on write.
// It is a reconstructable cache: losing it entirely is recoverable from the
// durable store.
type Memory struct {
	client     *redis.Client
	passportID uuid.UUID
	ttl        time.Duration
	bufferTTL  time.Duration
}

func NewMemory(client *redis.Client, passportID uuid.UUID, ttl, bufferTTL time.Duration) *Memory {
	return &Memory{
		client:     client,
		passportID: passportID,
		ttl:        ttl,
		bufferTTL:  bufferTTL,
	}
}

func (m *Memory) PassportID() uuid.UUID { return m.passportID }

func (m *Memory) key(suffix string) string {
	return "chat:" + m.passportID.String() + ":" + suffix
}

// ---------------------------------------------------------------------------
// Window and sequence counter
// ---------------------------------------------------------------------------

// AppendTurn appends a turn to the live window and returns its fresh
// sequence number.
func (m *Memory) AppendTurn(ctx context.Context, turn domain.Turn) (int64, error) {
	payload, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("memory.AppendTurn: marshal: %w", err)
	}

	var seq int64
	err = withRetry(ctx, "memory.AppendTurn", func() error {
		res, runErr := appendTurn.Run(ctx, m.client,
			[]string{m.key("seq"), m.key("window")},
			payload, int(m.ttl.Seconds()),
		).Int64()
		if runErr != nil {
			return runErr
		}
		seq = res
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory.AppendTurn: %w", err)
	}

	return seq, nil
}

// SetSeqFloor initializes the sequence counter to floor when it does not
// exist yet. Used after snapshot recovery so replayed windows continue
// numbering from the cutoff.
func (m *Memory) SetSeqFloor(ctx context.Context, floor int64) error {
	err := withRetry(ctx, "memory.SetSeqFloor", func() error {
		return m.client.SetNX(ctx, m.key("seq"), floor, m.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("memory.SetSeqFloor: %w", err)
	}
	return nil
}

// LastSeq returns the current sequence counter, 0 when the conversation has
// no live state.
func (m *Memory) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := withRetry(ctx, "memory.LastSeq", func() error {
		val, getErr := m.client.Get(ctx, m.key("seq")).Result()
		if getErr == redis.Nil {
			seq = 0
			return nil
		}
		if getErr != nil {
			return getErr
		}
		parsed, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("parse seq %q: %w", val, parseErr)
		}
		seq = parsed
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory.LastSeq: %w", err)
	}
	return seq, nil
}

// Window returns the live window in sequence order.
func (m *Memory) Window(ctx context.Context) ([]domain.Turn, error) {
	var raw []string
	err := withRetry(ctx, "memory.Window", func() error {
		res, rangeErr := m.client.ZRange(ctx, m.key("window"), 0, -1).Result()
		if rangeErr != nil {
			return rangeErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory.Window: %w", err)
	}

	return decodeTurns(raw)
}

// WindowThrough returns window entries with sequence <= cutoff.
func (m *Memory) WindowThrough(ctx context.Context, cutoff int64) ([]domain.Turn, error) {
	var raw []string
	err := withRetry(ctx, "memory.WindowThrough", func() error {
		res, rangeErr := m.client.ZRangeByScore(ctx, m.key("window"), &redis.ZRangeBy{
			Min: "0",
			Max: strconv.FormatInt(cutoff, 10),
		}).Result()
		if rangeErr != nil {
			return rangeErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory.WindowThrough: %w", err)
	}

	return decodeTurns(raw)
}

// TrimWindowThrough drops window entries with sequence <= cutoff. Everything
// before the cutoff is represented only by the rolling summary afterwards.
func (m *Memory) TrimWindowThrough(ctx context.Context, cutoff int64) error {
	err := withRetry(ctx, "memory.TrimWindowThrough", func() error {
		return m.client.ZRemRangeByScore(ctx, m.key("window"),
			"0", strconv.FormatInt(cutoff, 10)).Err()
	})
	if err != nil {
		return fmt.Errorf("memory.TrimWindowThrough: %w", err)
	}
	return nil
}

func decodeTurns(raw []string) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(raw))
	for _, r := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// ---------------------------------------------------------------------------
// Inbound queue
// ---------------------------------------------------------------------------

// PushInbox enqueues a raw user message for the next processing cycle.
func (m *Memory) PushInbox(ctx context.Context, text string) error {
	err := withRetry(ctx, "memory.PushInbox", func() error {
		pipe := m.client.TxPipeline()
		pipe.RPush(ctx, m.key("inbox"), text)
		pipe.Expire(ctx, m.key("inbox"), m.ttl)
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("memory.PushInbox: %w", err)
	}
	return nil
}

func (m *Memory) InboxLen(ctx context.Context) (int64, error) {
	var n int64
	err := withRetry(ctx, "memory.InboxLen", func() error {
		res, lenErr := m.client.LLen(ctx, m.key("inbox")).Result()
		if lenErr != nil {
			return lenErr
		}
		n = res
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory.InboxLen: %w", err)
	}
	return n, nil
}

// DrainInbox moves every queued message into the processing list and returns
// them in arrival order. The inbox is empty after a drain; no message is
// read twice because LMOVE is atomic per element.
func (m *Memory) DrainInbox(ctx context.Context) ([]string, error) {
	var drained []string
	err := withRetry(ctx, "memory.DrainInbox", func() error {
		for {
			msg, moveErr := m.client.LMove(ctx, m.key("inbox"), m.key("processing"), "LEFT", "RIGHT").Result()
			if moveErr == redis.Nil {
				return nil
			}
			if moveErr != nil {
				return moveErr
			}
			drained = append(drained, msg)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("memory.DrainInbox: %w", err)
	}
	return drained, nil
}

// ClearProcessing drops the processing marker once drained messages are
// merged into the window.
func (m *Memory) ClearProcessing(ctx context.Context) error {
	err := withRetry(ctx, "memory.ClearProcessing", func() error {
		return m.client.Del(ctx, m.key("processing")).Err()
	})
	if err != nil {
		return fmt.Errorf("memory.ClearProcessing: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Summary, stage, language, search queries, profile
// ---------------------------------------------------------------------------

// SetSummaryState writes summary, cutoff and optionally stage in one
// pipelined batch. Cross-key atomicity is not required: readers re-derive
// from sequence numbers rather than assuming the three keys move together.
func (m *Memory) SetSummaryState(ctx context.Context, summary string, cutoff int64, stage domain.Stage) error {
	err := withRetry(ctx, "memory.SetSummaryState", func() error {
		pipe := m.client.Pipeline()
		pipe.Set(ctx, m.key("summary"), summary, m.ttl)
		pipe.Set(ctx, m.key("cutoff"), cutoff, m.ttl)
		if stage != "" {
			pipe.Set(ctx, m.key("stage"), string(stage), m.ttl)
		}
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("memory.SetSummaryState: %w", err)
	}
	return nil
}

func (m *Memory) Summary(ctx context.Context) (string, error) {
	return m.getString(ctx, "summary", "memory.Summary")
}

func (m *Memory) Cutoff(ctx context.Context) (int64, error) {
	var cutoff int64
	err := withRetry(ctx, "memory.Cutoff", func() error {
		val, getErr := m.client.Get(ctx, m.key("cutoff")).Result()
		if getErr == redis.Nil {
			cutoff = 0
			return nil
		}
		if getErr != nil {
			return getErr
		}
		parsed, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("parse cutoff %q: %w", val, parseErr)
		}
		cutoff = parsed
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory.Cutoff: %w", err)
	}
	return cutoff, nil
}

func (m *Memory) SetStage(ctx context.Context, stage domain.Stage) error {
	return m.setString(ctx, "stage", string(stage), "memory.SetStage")
}

func (m *Memory) Stage(ctx context.Context) (domain.Stage, error) {
	s, err := m.getString(ctx, "stage", "memory.Stage")
	return domain.Stage(s), err
}

func (m *Memory) SetLanguage(ctx context.Context, lang string) error {
	return m.setString(ctx, "lang", lang, "memory.SetLanguage")
}

func (m *Memory) Language(ctx context.Context) (string, error) {
	return m.getString(ctx, "lang", "memory.Language")
}

func (m *Memory) SetProfile(ctx context.Context, content string) error {
	return m.setString(ctx, "profile", content, "memory.SetProfile")
}

func (m *Memory) Profile(ctx context.Context) (string, error) {
	return m.getString(ctx, "profile", "memory.Profile")
}

func (m *Memory) AddSearchQuery(ctx context.Context, query string) error {
	err := withRetry(ctx, "memory.AddSearchQuery", func() error {
		pipe := m.client.TxPipeline()
		pipe.RPush(ctx, m.key("queries"), query)
		pipe.Expire(ctx, m.key("queries"), m.ttl)
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("memory.AddSearchQuery: %w", err)
	}
	return nil
}

func (m *Memory) SetSearchQueries(ctx context.Context, queries []string) error {
	err := withRetry(ctx, "memory.SetSearchQueries", func() error {
		pipe := m.client.TxPipeline()
		pipe.Del(ctx, m.key("queries"))
		if len(queries) > 0 {
			args := make([]any, len(queries))
			for i, q := range queries {
				args[i] = q
			}
			pipe.RPush(ctx, m.key("queries"), args...)
			pipe.Expire(ctx, m.key("queries"), m.ttl)
		}
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("memory.SetSearchQueries: %w", err)
	}
	return nil
}

func (m *Memory) SearchQueries(ctx context.Context) ([]string, error) {
	var queries []string
	err := withRetry(ctx, "memory.SearchQueries", func() error {
		res, rangeErr := m.client.LRange(ctx, m.key("queries"), 0, -1).Result()
		if rangeErr != nil {
			return rangeErr
		}
		queries = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory.SearchQueries: %w", err)
	}
	return queries, nil
}

// ---------------------------------------------------------------------------
// Pending outbound buffer
// ---------------------------------------------------------------------------

// PendingMessage is one undelivered outbound payload. Kind distinguishes the
// sender so deduplication is by content and sender.
type PendingMessage struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// AddPending buffers an undeliverable outbound message. Duplicates (same
// kind and payload) are skipped so send retries never create duplicate
// buffered entries. Deliberately not retried: a retry after a half-applied
// push could buffer the message twice.
func (m *Memory) AddPending(ctx context.Context, msg PendingMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("memory.AddPending: marshal: %w", err)
	}

	existing, err := m.client.LRange(ctx, m.key("pending"), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("memory.AddPending: %w", err)
	}
	for _, e := range existing {
		if e == string(value) {
			return nil
		}
	}

	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, m.key("pending"), value)
	pipe.Expire(ctx, m.key("pending"), m.bufferTTL)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("memory.AddPending: %w", err)
	}

	return nil
}

// Pending returns buffered outbound messages in original order.
func (m *Memory) Pending(ctx context.Context) ([]PendingMessage, error) {
	var raw []string
	err := withRetry(ctx, "memory.Pending", func() error {
		res, rangeErr := m.client.LRange(ctx, m.key("pending"), 0, -1).Result()
		if rangeErr != nil {
			return rangeErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory.Pending: %w", err)
	}

	msgs := make([]PendingMessage, 0, len(raw))
	for _, r := range raw {
		var p PendingMessage
		if unmarshalErr := json.Unmarshal([]byte(r), &p); unmarshalErr != nil {
			return nil, fmt.Errorf("memory.Pending: decode: %w", unmarshalErr)
		}
		msgs = append(msgs, p)
	}

	return msgs, nil
}

// RemovePending removes one buffered copy of msg after a confirmed send.
// Not retried for the same reason as AddPending.
func (m *Memory) RemovePending(ctx context.Context, msg PendingMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("memory.RemovePending: marshal: %w", err)
	}

	if err = m.client.LRem(ctx, m.key("pending"), 1, value).Err(); err != nil {
		return fmt.Errorf("memory.RemovePending: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Eviction
// ---------------------------------------------------------------------------

// Evict removes all live state for the conversation. The sequence counter is
// only ever reset through this conversation-scoped eviction.
func (m *Memory) Evict(ctx context.Context) error {
	keys := []string{
		m.key("window"), m.key("inbox"), m.key("processing"), m.key("summary"),
		m.key("cutoff"), m.key("seq"), m.key("lang"), m.key("stage"),
		m.key("queries"), m.key("pending"), m.key("profile"), m.key("lock"),
	}

	err := withRetry(ctx, "memory.Evict", func() error {
		return m.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("memory.Evict: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// String helpers
// ---------------------------------------------------------------------------

func (m *Memory) setString(ctx context.Context, suffix, value, op string) error {
	err := withRetry(ctx, op, func() error {
		return m.client.Set(ctx, m.key(suffix), value, m.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Memory) getString(ctx context.Context, suffix, op string) (string, error) {
	var out string
	err := withRetry(ctx, op, func() error {
		val, getErr := m.client.Get(ctx, m.key(suffix)).Result()
		if getErr == redis.Nil {
			out = ""
			return nil
		}
		if getErr != nil {
			return getErr
		}
		out = val
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
