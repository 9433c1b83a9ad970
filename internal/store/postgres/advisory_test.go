package postgres_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/relai/internal/store/postgres"
)

func TestLockKey_Deterministic(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	a := postgres.LockKey(id)
	b := postgres.LockKey(id)
	assert.Equal(t, a, b)
}

func TestLockKey_NonNegative(t *testing.T) {
	t.Parallel()

	for range 256 {
		key := postgres.LockKey(uuid.New())
		assert.GreaterOrEqual(t, key, int64(0))
	}
}

func TestLockKey_DifferentIDsDifferentKeys(t *testing.T) {
	t.Parallel()

	a := postgres.LockKey(uuid.MustParse("11111111-2222-3333-4444-555555555555"))
	b := postgres.LockKey(uuid.MustParse("99999999-8888-7777-6666-555544443333"))
	assert.NotEqual(t, a, b)
}
