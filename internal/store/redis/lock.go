package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLock deletes the lock key only when it still holds the caller's
// token, so an expired lock re-acquired by another holder is never released
// by the previous one.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a per-conversation distributed mutex guarding the processing
// cycle. The TTL caps how long a crashed holder can block the conversation.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewLock(client *redis.Client, passportID uuid.UUID, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    "chat:" + passportID.String() + ":lock",
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock without blocking. It returns false
// when another holder owns it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock.TryAcquire: %w", err)
	}
	return ok, nil
}

// Release frees the lock if this instance still holds it. Releasing a lock
// that expired or was taken over is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseLock.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lock.Release: %w", err)
	}
	return nil
}
