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

func TestOrphanSweeper_ReclaimsMessageAfterAckWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.QueueConfig{StreamKey: "orchestrator:commands", ConsumerGroup: "workers"}
	ctx := context.Background()
	q, err := NewQueue(ctx, client, cfg)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, CommandMessage{SessionID: "S-1", StepIndex: 0}))

	claimed, err := q.Claim(ctx, "worker-a", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	// worker-a never acks — simulating a crashed worker.

	mr.FastForward(10 * time.Second)

	sweeper := NewOrphanSweeper(client, cfg.StreamKey, cfg.ConsumerGroup, 5*time.Second, 3, "sweeper")
	require.NoError(t, sweeper.sweepOnce(ctx))

	assert.Equal(t, 1, sweeper.RedeliveryCount(claimed[0].id))

	reclaimed, err := q.Claim(ctx, "worker-b", 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1, "worker-b should now be able to claim the reclaimed message")
	assert.Equal(t, "S-1", reclaimed[0].SessionID)
}

func TestOrphanSweeper_ExceedsRedeliveryLimit(t *testing.T) {
	sweeper := &OrphanSweeper{
		cfg:          sweepConfig{redeliveryCap: 3},
		redeliveries: map[string]int{"1-0": 3},
	}
	assert.True(t, sweeper.ExceedsRedeliveryLimit("1-0"))
	assert.False(t, sweeper.ExceedsRedeliveryLimit("2-0"))
}

func TestOrphanSweeper_NoRedeliveryLimitWhenCapIsZero(t *testing.T) {
	sweeper := &OrphanSweeper{
		cfg:          sweepConfig{redeliveryCap: 0},
		redeliveries: map[string]int{"1-0": 100},
	}
	assert.False(t, sweeper.ExceedsRedeliveryLimit("1-0"))
}
