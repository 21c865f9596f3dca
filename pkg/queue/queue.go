// Package queue implements the durable command queue (§4.2, §4.3, §5):
// at-least-once delivery of session.command assignments to Worker Runtime
// consumers, with a per-message ACK window and orphan redelivery, backed
// by Redis Streams consumer groups.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
)

// payloadField is the single field name used to store the JSON-encoded
// CommandMessage inside each Redis Stream entry.
const payloadField = "cmd"

// Queue is a durable, at-least-once command queue. It is safe for
// concurrent use by any number of producers and consumers.
type Queue struct {
	client *redis.Client
	cfg    config.QueueConfig
	log    *slog.Logger
}

// NewQueue constructs a Queue over an already-connected Redis client and
// ensures the consumer group exists (idempotent: BUSYGROUP is swallowed).
func NewQueue(ctx context.Context, client *redis.Client, cfg config.QueueConfig) (*Queue, error) {
	q := &Queue{client: client, cfg: cfg, log: slog.With("component", "queue")}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.StreamKey, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// isBusyGroup reports whether err is Redis's BUSYGROUP response, returned
// when the consumer group already exists — expected on every restart after
// the first.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func marshalCommand(msg CommandMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalCommand(s string) (CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return CommandMessage{}, err
	}
	return msg, nil
}

// Enqueue appends a CommandMessage to the stream. Messages for the same
// session_id MUST be enqueued in step order — the caller (Session State
// Machine) enforces this by only enqueueing step N+1 once step N reaches a
// terminal status.
func (q *Queue) Enqueue(ctx context.Context, msg CommandMessage) error {
	data, err := marshalCommand(msg)
	if err != nil {
		return fmt.Errorf("marshaling command message: %w", err)
	}

	res := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.StreamKey,
		Values: map[string]interface{}{payloadField: data},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("enqueueing command for session %s step %d: %w", msg.SessionID, msg.StepIndex, err)
	}
	return nil
}

// Claim reads up to count undelivered messages for consumerName, blocking
// for at most blockFor if none are immediately available. Returns
// ErrQueueEmpty on timeout rather than an error — callers poll in a loop.
func (q *Queue) Claim(ctx context.Context, consumerName string, count int64, blockFor time.Duration) ([]ClaimedMessage, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.ConsumerGroup,
		Consumer: consumerName,
		Streams:  []string{q.cfg.StreamKey, ">"},
		Count:    count,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("claiming messages: %w", err)
	}

	var claimed []ClaimedMessage
	for _, stream := range res {
		for _, entry := range stream.Messages {
			msg, err := q.decodeEntry(entry)
			if err != nil {
				q.log.Warn("dropping unparseable stream entry", "entry_id", entry.ID, "error", err)
				// Ack it so it never blocks the pending list — a malformed
				// entry can never be successfully processed by any consumer.
				_ = q.client.XAck(ctx, q.cfg.StreamKey, q.cfg.ConsumerGroup, entry.ID).Err()
				continue
			}
			claimed = append(claimed, ClaimedMessage{CommandMessage: msg, id: entry.ID, deliveryTime: time.Now()})
		}
	}
	if len(claimed) == 0 {
		return nil, ErrQueueEmpty
	}
	return claimed, nil
}

// Ack acknowledges successful processing of a claimed message, removing it
// from the consumer group's pending entries list.
func (q *Queue) Ack(ctx context.Context, msg ClaimedMessage) error {
	n, err := q.client.XAck(ctx, q.cfg.StreamKey, q.cfg.ConsumerGroup, msg.id).Result()
	if err != nil {
		return fmt.Errorf("acking message %s: %w", msg.id, err)
	}
	if n == 0 {
		return ErrMessageNotPending
	}
	return nil
}

// Nak leaves msg unacknowledged so it remains pending until the ACK window
// elapses, at which point the orphan sweep's XAUTOCLAIM redelivers it to
// another consumer. reason is logged only — Redis Streams has no NAK verb.
func (q *Queue) Nak(ctx context.Context, msg ClaimedMessage, reason string) {
	q.log.Warn("message not acked, will be redelivered after ack window",
		"session_id", msg.SessionID, "step_index", msg.StepIndex, "entry_id", msg.id, "reason", reason)
}

// Depth returns the number of entries never yet delivered to any consumer.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	info, err := q.client.XInfoGroups(ctx, q.cfg.StreamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("querying stream group info: %w", err)
	}
	for _, g := range info {
		if g.Name == q.cfg.ConsumerGroup {
			return g.Lag, nil
		}
	}
	return 0, nil
}

// PendingCount returns the number of claimed-but-unacked messages across
// all consumers (queue depth "in flight").
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	summary, err := q.client.XPending(ctx, q.cfg.StreamKey, q.cfg.ConsumerGroup).Result()
	if err != nil {
		return 0, fmt.Errorf("querying pending summary: %w", err)
	}
	return summary.Count, nil
}

func (q *Queue) decodeEntry(entry redis.XMessage) (CommandMessage, error) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return CommandMessage{}, fmt.Errorf("entry %s missing %q field", entry.ID, payloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return CommandMessage{}, fmt.Errorf("entry %s field %q has unexpected type %T", entry.ID, payloadField, raw)
	}
	return unmarshalCommand(s)
}
