package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrphanSweeper periodically reclaims messages that were claimed but never
// acked within the configured ACK window (§4.3: "If the worker fails to
// ACK, the message is re-delivered to another eligible worker"), using
// Redis Streams' XAUTOCLAIM. All orchestrator replicas run a sweeper
// independently; XAUTOCLAIM is idempotent under concurrent callers.
type OrphanSweeper struct {
	client       *redis.Client
	cfg          sweepConfig
	consumerName string
	redeliveries map[string]int
	log          *slog.Logger
}

type sweepConfig struct {
	streamKey     string
	consumerGroup string
	ackWindow     time.Duration
	redeliveryCap int
}

// NewOrphanSweeper constructs a sweeper that reclaims stale pending entries
// under consumerName (typically this process's own identity, so reclaimed
// messages are processed by whichever worker next calls Claim).
func NewOrphanSweeper(client *redis.Client, streamKey, consumerGroup string, ackWindow time.Duration, redeliveryCap int, consumerName string) *OrphanSweeper {
	return &OrphanSweeper{
		client:       client,
		cfg:          sweepConfig{streamKey: streamKey, consumerGroup: consumerGroup, ackWindow: ackWindow, redeliveryCap: redeliveryCap},
		consumerName: consumerName,
		redeliveries: make(map[string]int),
		log:          slog.With("component", "queue.orphan_sweeper"),
	}
}

// Run blocks, sweeping on interval until ctx is cancelled.
func (s *OrphanSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.log.Error("orphan sweep failed", "error", err)
			}
		}
	}
}

// sweepOnce reclaims entries idle longer than the ACK window, starting
// from cursor "0-0" and following the returned cursor until Redis reports
// no more stale entries for this pass.
func (s *OrphanSweeper) sweepOnce(ctx context.Context) error {
	cursor := "0-0"
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.cfg.streamKey,
			Group:    s.cfg.consumerGroup,
			Consumer: s.consumerName,
			MinIdle:  s.cfg.ackWindow,
			Start:    cursor,
			Count:    50,
		}).Result()
		if err != nil {
			return err
		}
		for _, msg := range messages {
			s.redeliveries[msg.ID]++
			s.log.Warn("reclaimed orphaned message",
				"entry_id", msg.ID, "redelivery_count", s.redeliveries[msg.ID])
		}
		if next == "0-0" || len(messages) == 0 {
			return nil
		}
		cursor = next
	}
}

// RedeliveryCount reports how many times entryID has been reclaimed by a
// sweep, for callers that want to give up after ClaimRedeliveryLimit.
func (s *OrphanSweeper) RedeliveryCount(entryID string) int {
	return s.redeliveries[entryID]
}

// ExceedsRedeliveryLimit reports whether entryID has been reclaimed at
// least as many times as the configured ClaimRedeliveryLimit — the Worker
// Runtime uses this to stop retrying a poisoned message and instead fail
// the step with a WorkerLost error kind.
func (s *OrphanSweeper) ExceedsRedeliveryLimit(entryID string) bool {
	if s.cfg.redeliveryCap <= 0 {
		return false
	}
	return s.redeliveries[entryID] >= s.cfg.redeliveryCap
}
