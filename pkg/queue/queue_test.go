package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.QueueConfig{
		StreamKey:     "orchestrator:commands",
		ConsumerGroup: "workers",
	}
	q, err := NewQueue(context.Background(), client, cfg)
	require.NoError(t, err)
	return q, client
}

func TestQueue_EnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CommandMessage{
		SessionID: "S-1", StepIndex: 0, IdempotencyKey: "idem-1", Payload: []byte(`{"cmd":"restart"}`),
	}))

	claimed, err := q.Claim(ctx, "worker-a", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "S-1", claimed[0].SessionID)
	assert.Equal(t, 0, claimed[0].StepIndex)
	assert.Equal(t, "idem-1", claimed[0].IdempotencyKey)
}

func TestQueue_ClaimReturnsErrQueueEmptyWhenNothingAvailable(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueue_AckRemovesFromPending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-2", StepIndex: 0}))
	claimed, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, q.Ack(ctx, claimed[0]))

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestQueue_AckTwiceReturnsErrMessageNotPending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-3", StepIndex: 0}))
	claimed, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, claimed[0]))

	err = q.Ack(ctx, claimed[0])
	assert.ErrorIs(t, err, ErrMessageNotPending)
}

func TestQueue_UnackedMessageStaysPendingForRedelivery(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-4", StepIndex: 0}))
	claimed, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	q.Nak(ctx, claimed[0], "connector timeout")

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "unacked message must remain pending until the orphan sweep reclaims it")
}

func TestQueue_PreservesFIFOOrderWithinSession(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-5", StepIndex: i}))
	}

	claimed, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 5)
	for i, msg := range claimed {
		assert.Equal(t, i, msg.StepIndex, "messages must be delivered in enqueue order")
	}
}

func TestQueue_DepthReflectsUnclaimedBacklog(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-6", StepIndex: i}))
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)

	_, err = q.Claim(ctx, "worker-a", 2, 50*time.Millisecond)
	require.NoError(t, err)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "claimed entries are no longer lag/unclaimed backlog")
}
