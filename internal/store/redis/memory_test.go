package redis

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/relai/internal/domain"
)

func newTestMemory(t *testing.T) (*Memory, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewMemory(client, uuid.New(), 2*time.Hour, 15*time.Minute), srv
}

func TestMemoryAppendTurn(t *testing.T) {
	t.Parallel()

	t.Run("assigns monotonic sequence numbers", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		seq1, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: "hello"})
		require.NoError(t, err)
		seq2, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleAssistant, Text: "hi"})
		require.NoError(t, err)

		assert.Equal(t, int64(1), seq1)
		assert.Equal(t, int64(2), seq2)
	})

	t.Run("window preserves order", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		for _, text := range []string{"a", "b", "c"} {
			_, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: text})
			require.NoError(t, err)
		}

		window, err := mem.Window(ctx)
		require.NoError(t, err)
		require.Len(t, window, 3)
		assert.Equal(t, "a", window[0].Text)
		assert.Equal(t, "b", window[1].Text)
		assert.Equal(t, "c", window[2].Text)
	})

	t.Run("continues from seq floor", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		require.NoError(t, mem.SetSeqFloor(ctx, 8))
		seq, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: "after recovery"})
		require.NoError(t, err)
		assert.Equal(t, int64(9), seq)
	})

	t.Run("seq floor does not overwrite existing counter", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		_, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: "x"})
		require.NoError(t, err)

		require.NoError(t, mem.SetSeqFloor(ctx, 100))

		seq, err := mem.LastSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
	})
}

func TestMemoryWindowTrim(t *testing.T) {
	t.Parallel()

	mem, _ := newTestMemory(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: text})
		require.NoError(t, err)
	}

	through, err := mem.WindowThrough(ctx, 2)
	require.NoError(t, err)
	require.Len(t, through, 2)
	assert.Equal(t, "one", through[0].Text)
	assert.Equal(t, "two", through[1].Text)

	require.NoError(t, mem.TrimWindowThrough(ctx, 2))

	window, err := mem.Window(ctx)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "three", window[0].Text)
	assert.Equal(t, "four", window[1].Text)

	// Seq counter survives the trim.
	seq, err := mem.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestMemoryInbox(t *testing.T) {
	t.Parallel()

	t.Run("drain returns messages in arrival order", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		require.NoError(t, mem.PushInbox(ctx, "first"))
		require.NoError(t, mem.PushInbox(ctx, "second"))

		n, err := mem.InboxLen(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		drained, err := mem.DrainInbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, drained)
	})

	t.Run("second drain is empty", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		require.NoError(t, mem.PushInbox(ctx, "only"))

		first, err := mem.DrainInbox(ctx)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := mem.DrainInbox(ctx)
		require.NoError(t, err)
		assert.Empty(t, second)
	})

	t.Run("clear processing removes marker", func(t *testing.T) {
		t.Parallel()
		mem, srv := newTestMemory(t)
		ctx := context.Background()

		require.NoError(t, mem.PushInbox(ctx, "msg"))
		_, err := mem.DrainInbox(ctx)
		require.NoError(t, err)

		assert.True(t, srv.Exists(mem.key("processing")))
		require.NoError(t, mem.ClearProcessing(ctx))
		assert.False(t, srv.Exists(mem.key("processing")))
	})
}

func TestMemorySummaryState(t *testing.T) {
	t.Parallel()

	mem, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.SetSummaryState(ctx, "they asked about pricing", 8, domain.StageTest))

	summary, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "they asked about pricing", summary)

	cutoff, err := mem.Cutoff(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cutoff)

	stage, err := mem.Stage(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageTest, stage)
}

func TestMemoryMissingKeysReadAsZero(t *testing.T) {
	t.Parallel()

	mem, _ := newTestMemory(t)
	ctx := context.Background()

	summary, err := mem.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)

	cutoff, err := mem.Cutoff(ctx)
	require.NoError(t, err)
	assert.Zero(t, cutoff)

	seq, err := mem.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	lang, err := mem.Language(ctx)
	require.NoError(t, err)
	assert.Empty(t, lang)

	stage, err := mem.Stage(ctx)
	require.NoError(t, err)
	assert.Empty(t, stage)
}

func TestMemorySearchQueries(t *testing.T) {
	t.Parallel()

	mem, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.AddSearchQuery(ctx, "reset password"))
	require.NoError(t, mem.AddSearchQuery(ctx, "billing cycle"))

	queries, err := mem.SearchQueries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"reset password", "billing cycle"}, queries)

	require.NoError(t, mem.SetSearchQueries(ctx, []string{"hydrated"}))
	queries, err = mem.SearchQueries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hydrated"}, queries)
}

func TestMemoryPending(t *testing.T) {
	t.Parallel()

	t.Run("dedupes same kind and payload", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		msg := PendingMessage{Kind: "assistant", Payload: "buffered reply"}
		require.NoError(t, mem.AddPending(ctx, msg))
		require.NoError(t, mem.AddPending(ctx, msg))

		pending, err := mem.Pending(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("different payloads both buffered in order", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		require.NoError(t, mem.AddPending(ctx, PendingMessage{Kind: "assistant", Payload: "first"}))
		require.NoError(t, mem.AddPending(ctx, PendingMessage{Kind: "system", Payload: "second"}))

		pending, err := mem.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "first", pending[0].Payload)
		assert.Equal(t, "second", pending[1].Payload)
	})

	t.Run("remove deletes a confirmed entry", func(t *testing.T) {
		t.Parallel()
		mem, _ := newTestMemory(t)
		ctx := context.Background()

		msg := PendingMessage{Kind: "assistant", Payload: "to flush"}
		require.NoError(t, mem.AddPending(ctx, msg))
		require.NoError(t, mem.RemovePending(ctx, msg))

		pending, err := mem.Pending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestMemoryEvict(t *testing.T) {
	t.Parallel()

	mem, srv := newTestMemory(t)
	ctx := context.Background()

	_, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: "x"})
	require.NoError(t, err)
	require.NoError(t, mem.SetLanguage(ctx, "English"))
	require.NoError(t, mem.SetStage(ctx, domain.StageAnswering))

	require.NoError(t, mem.Evict(ctx))

	assert.False(t, srv.Exists(mem.key("window")))
	assert.False(t, srv.Exists(mem.key("seq")))
	assert.False(t, srv.Exists(mem.key("lang")))
	assert.False(t, srv.Exists(mem.key("stage")))
}

func TestMemoryTTLRefreshed(t *testing.T) {
	t.Parallel()

	mem, srv := newTestMemory(t)
	ctx := context.Background()

	_, err := mem.AppendTurn(ctx, domain.Turn{Role: domain.RoleUser, Text: "x"})
	require.NoError(t, err)

	assert.Greater(t, srv.TTL(mem.key("window")), time.Duration(0))
	assert.Greater(t, srv.TTL(mem.key("seq")), time.Duration(0))

	srv.FastForward(3 * time.Hour)

	window, err := mem.Window(ctx)
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestMemoryConcurrentAppendTurn(t *testing.T) {
	t.Parallel()

	mem, _ := newTestMemory(t)
	ctx := context.Background()

	const appenders = 20

	var wg sync.WaitGroup
	seqs := make(chan int64, appenders)
	start := make(chan struct{})

	for i := range appenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			seq, err := mem.AppendTurn(ctx, domain.Turn{
				Role: domain.RoleUser,
				Text: fmt.Sprintf("turn %d", i),
			})
			require.NoError(t, err)
			seqs <- seq
		}()
	}

	close(start)
	wg.Wait()
	close(seqs)

	// Strictly increasing and gap-free: the assigned numbers are exactly
	// 1..N in some order.
	var got []int64
	for seq := range seqs {
		got = append(got, seq)
	}
	slices.Sort(got)
	require.Len(t, got, appenders)
	for i, seq := range got {
		assert.Equal(t, int64(i+1), seq)
	}

	window, err := mem.Window(ctx)
	require.NoError(t, err)
	assert.Len(t, window, appenders)
}
