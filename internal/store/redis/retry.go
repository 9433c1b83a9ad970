package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxRetryAttempts = 3

// withRetry runs fn, retrying transient Redis failures with exponential
// backoff up to maxRetryAttempts total attempts. Critical failures such as
// authentication or protocol errors propagate immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(), maxRetryAttempts-1), ctx)

	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).
			Msg("transient redis error, retrying")
		return err
	}, policy)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// isTransient reports whether err is worth retrying: network failures,
// timeouts, and server states Redis itself signals as temporary.
func isTransient(err error) bool {
	if err == nil || err == redis.Nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if redis.HasErrorPrefix(err, "LOADING") ||
		redis.HasErrorPrefix(err, "READONLY") ||
		redis.HasErrorPrefix(err, "CLUSTERDOWN") ||
		redis.HasErrorPrefix(err, "TRYAGAIN") ||
		redis.HasErrorPrefix(err, "MASTERDOWN") {
		return true
	}

	if strings.Contains(err.Error(), "connection pool timeout") {
		return true
	}

	return false
}
