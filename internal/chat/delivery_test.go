package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 8)
	ctx := context.Background()

	fx.transport.failures = 1 // first attempt fails, retry succeeds

	require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "eventually sent"))
	assert.Equal(t, []string{"eventually sent"}, fx.transport.sentCopy())

	pending, err := fx.mem.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeliveryBuffersOnFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 8)
	ctx := context.Background()

	fx.transport.failures = 10 // exceeds retry budget

	err := fx.delivery.Deliver(ctx, KindAssistant, "undeliverable")
	require.Error(t, err)

	pending, err := fx.mem.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, KindAssistant, pending[0].Kind)
	assert.Equal(t, "undeliverable", pending[0].Payload)
}

func TestDeliveryBuffersWhileDisconnected(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 8)
	ctx := context.Background()

	fx.transport.setConnected(false)

	// No error: the message is parked, not lost.
	require.NoError(t, fx.delivery.Deliver(ctx, KindSystem, "parked notice"))
	assert.Empty(t, fx.transport.sentCopy())

	pending, err := fx.mem.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "parked notice", pending[0].Payload)
}

func TestDeliveryFlushPending(t *testing.T) {
	t.Parallel()

	t.Run("replays in original order and clears the buffer", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 8)
		ctx := context.Background()

		fx.transport.setConnected(false)
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "first"))
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "second"))

		fx.transport.setConnected(true)
		require.NoError(t, fx.delivery.FlushPending(ctx))

		assert.Equal(t, []string{"first", "second"}, fx.transport.sentCopy())

		pending, err := fx.mem.Pending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("stops at first failure and keeps the remainder", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 8)
		ctx := context.Background()

		fx.transport.setConnected(false)
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "first"))
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "second"))

		fx.transport.setConnected(true)
		fx.transport.failures = 10
		require.Error(t, fx.delivery.FlushPending(ctx))

		pending, err := fx.mem.Pending(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})

	t.Run("duplicate sends do not duplicate the buffer", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 8)
		ctx := context.Background()

		fx.transport.setConnected(false)
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "same"))
		require.NoError(t, fx.delivery.Deliver(ctx, KindAssistant, "same"))

		pending, err := fx.mem.Pending(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
