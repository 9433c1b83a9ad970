package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gosuda/relai/internal/engine"
	redisstore "github.com/gosuda/relai/internal/store/redis"
)

// scriptTransport records sends and fails the first failures attempts.
type scriptTransport struct {
	mu        sync.Mutex
	sent      []string
	failures  int
	connected bool
}

var _ Transport = (*scriptTransport)(nil)

func newScriptTransport() *scriptTransport {
	return &scriptTransport{connected: true}
}

func (t *scriptTransport) Send(_ context.Context, _, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return errors.New("transport write failed")
	}
	t.sent = append(t.sent, payload)
	return nil
}

func (t *scriptTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *scriptTransport) setConnected(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = v
}

func (t *scriptTransport) sentCopy() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// scriptGenerator replays canned replies in call order.
type scriptGenerator struct {
	mu      sync.Mutex
	replies []engine.Reply
	err     error
	calls   []engine.GenerateRequest
}

var _ engine.Generator = (*scriptGenerator)(nil)

func (g *scriptGenerator) Generate(_ context.Context, req engine.GenerateRequest) (engine.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return engine.Reply{}, g.err
	}
	if len(g.replies) == 0 {
		return engine.Reply{Text: "ok"}, nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

// stubRetriever returns fixed snippets.
type stubRetriever struct {
	snippets []engine.Snippet
	err      error
}

var _ engine.Retriever = (*stubRetriever)(nil)

func (r *stubRetriever) Retrieve(context.Context, string, int) ([]engine.Snippet, error) {
	return r.snippets, r.err
}

// recordingEnqueuer captures scheduled background jobs.
type recordingEnqueuer struct {
	mu    sync.Mutex
	types []string
	byTyp map[string][]any
}

func newRecordingEnqueuer() *recordingEnqueuer {
	return &recordingEnqueuer{byTyp: make(map[string][]any)}
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, taskType string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, taskType)
	e.byTyp[taskType] = append(e.byTyp[taskType], payload)
	return nil
}

func (e *recordingEnqueuer) count(taskType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byTyp[taskType])
}

// fixture wires a StageManager over miniredis with scripted collaborators.
type fixture struct {
	passportID uuid.UUID
	mem        *redisstore.Memory
	transport  *scriptTransport
	gen        *scriptGenerator
	retriever  *stubRetriever
	enq        *recordingEnqueuer
	stages     *StageManager
	delivery   *Delivery
}

func newFixture(t *testing.T, windowSize int64) *fixture {
	t.Helper()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	passportID := uuid.New()
	mem := redisstore.NewMemory(client, passportID, time.Hour, 15*time.Minute)
	lock := redisstore.NewLock(client, passportID, 30*time.Second)
	transport := newScriptTransport()
	gen := &scriptGenerator{}
	retriever := &stubRetriever{}
	enq := newRecordingEnqueuer()
	logger := zerolog.Nop()

	delivery := NewDelivery(transport, mem, logger, DeliveryOptions{
		Retries:     2,
		SendTimeout: time.Second,
		BufferCap:   10,
	})

	stages := NewStageManager(passportID, mem, lock, engine.NewAssistant(gen),
		retriever, enq, delivery, logger, windowSize, 5)

	return &fixture{
		passportID: passportID,
		mem:        mem,
		transport:  transport,
		gen:        gen,
		retriever:  retriever,
		enq:        enq,
		stages:     stages,
		delivery:   delivery,
	}
}
