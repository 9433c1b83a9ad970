package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	redisstore "github.com/gosuda/relai/internal/store/redis"
)

// Transport is the outbound side of one client connection.
type Transport interface {
	Send(ctx context.Context, kind, payload string) error
	Connected() bool
}

// Outbound message kinds.
const (
	KindAssistant = "assistant"
	KindSystem    = "system"
)

// Delivery pushes outbound messages to the client and buffers what cannot
// be sent. Undeliverable messages go to the Redis pending list, deduplicated
// by kind and payload; an in-process fallback deque catches only the
// messages Redis itself refused, so the two buffers never hold the same
// entry.
type Delivery struct {
	transport Transport
	mem       *redisstore.Memory
	log       zerolog.Logger

	retries     int
	sendTimeout time.Duration
	backoff     time.Duration

	mu       sync.Mutex
	fallback []redisstore.PendingMessage
	capacity int
}

type DeliveryOptions struct {
	Retries     int
	SendTimeout time.Duration
	BufferCap   int
}

func NewDelivery(transport Transport, mem *redisstore.Memory, log zerolog.Logger, opts DeliveryOptions) *Delivery {
	return &Delivery{
		transport:   transport,
		mem:         mem,
		log:         log,
		retries:     opts.Retries,
		sendTimeout: opts.SendTimeout,
		backoff:     200 * time.Millisecond,
		capacity:    opts.BufferCap,
	}
}

// Deliver sends one outbound message, retrying transient failures. A
// message that cannot be delivered is buffered for a later FlushPending
// rather than dropped.
func (d *Delivery) Deliver(ctx context.Context, kind, payload string) error {
	msg := redisstore.PendingMessage{Kind: kind, Payload: payload}

	if !d.transport.Connected() {
		d.buffer(ctx, msg)
		return nil
	}

	if err := d.send(ctx, kind, payload); err != nil {
		d.log.Warn().Err(err).Str("kind", kind).Msg("delivery failed, buffering message")
		d.buffer(ctx, msg)
		return err
	}

	return nil
}

// send attempts the raw transport write with a per-attempt watchdog and
// linear backoff between attempts.
func (d *Delivery) send(ctx context.Context, kind, payload string) error {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.transport.Send(sendCtx, kind, payload)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < d.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * d.backoff):
			}
		}
	}
	return lastErr
}

// buffer stores an undeliverable message. The Redis add is not retried: a
// retry after a half-applied push could buffer the message twice. The
// fallback deque covers the failure instead.
func (d *Delivery) buffer(ctx context.Context, msg redisstore.PendingMessage) {
	err := d.mem.AddPending(ctx, msg)
	if err == nil {
		return
	}
	d.log.Error().Err(err).Str("kind", msg.Kind).
		Msg("failed to buffer pending message in redis, using fallback")

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fallback) >= d.capacity {
		dropped := d.fallback[0]
		d.fallback = d.fallback[1:]
		d.log.Warn().Str("kind", dropped.Kind).
			Msg("fallback buffer full, dropping oldest pending message")
	}
	d.fallback = append(d.fallback, msg)
}

// FlushPending replays buffered messages in original order after a
// reconnect. It stops at the first failure, leaving the remainder buffered;
// a message is removed from the buffer only after a confirmed send.
func (d *Delivery) FlushPending(ctx context.Context) error {
	pending, err := d.mem.Pending(ctx)
	if err != nil {
		return err
	}

	for _, msg := range pending {
		if err := d.send(ctx, msg.Kind, msg.Payload); err != nil {
			return err
		}
		if err := d.mem.RemovePending(ctx, msg); err != nil {
			d.log.Error().Err(err).Str("kind", msg.Kind).
				Msg("failed to remove flushed pending message")
		}
	}

	for {
		d.mu.Lock()
		if len(d.fallback) == 0 {
			d.mu.Unlock()
			return nil
		}
		msg := d.fallback[0]
		d.mu.Unlock()

		if err := d.send(ctx, msg.Kind, msg.Payload); err != nil {
			return err
		}

		d.mu.Lock()
		if len(d.fallback) > 0 && d.fallback[0] == msg {
			d.fallback = d.fallback[1:]
		}
		d.mu.Unlock()
	}
}
