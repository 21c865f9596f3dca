package queue

import (
	"errors"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// Sentinel errors for the durable command queue.
var (
	// ErrQueueEmpty indicates no claimable messages were available within
	// the poll's block duration.
	ErrQueueEmpty = errors.New("queue: no messages available")

	// ErrMessageNotPending is returned by Ack/Nak when the message is not
	// (or is no longer) in the consumer group's pending entries list —
	// typically because it was already acked, or reclaimed by another
	// consumer's orphan sweep.
	ErrMessageNotPending = errors.New("queue: message is not pending")
)

// CommandMessage is a `session.command` assignment dispatched to exactly
// one claimant worker at a time (§4.2, §6). The State Machine enqueues one
// CommandMessage per step, only after the prior step for that session has
// reached a terminal status — so FIFO ordering within a session_id
// partition falls directly out of enqueue order, without a separate
// per-partition structure in the queue itself.
type CommandMessage struct {
	SessionID      string `json:"session_id"`
	StepIndex      int    `json:"step_index"`
	IdempotencyKey string `json:"idempotency_key"`

	// Payload carries the realized step (connector kind, command, bound
	// credential reference) as the Worker Runtime's connector invocation
	// input, already JSON-encoded by the caller so the queue never needs
	// to know the step schema.
	Payload []byte `json:"payload"`
}

// ClaimedMessage pairs a CommandMessage with the queue entry ID needed to
// Ack or Nak it. The ID is opaque to callers outside this package.
type ClaimedMessage struct {
	CommandMessage
	id           string
	deliveryTime time.Time
}

// DeliveryTime reports when this claim was delivered to the current
// consumer, for caller-side ACK-window bookkeeping/metrics.
func (m ClaimedMessage) DeliveryTime() time.Time { return m.deliveryTime }

// SessionCommandPayload is the JSON body the State Machine marshals into
// CommandMessage.Payload for a `session.command` message (§4.3, §6): what
// the Worker Runtime needs to invoke a connector for one step (or one
// step's rollback) without a separate round trip to the store.
type SessionCommandPayload struct {
	Command        string                     `json:"command"`
	Shell          bool                       `json:"shell"`
	IsRollback     bool                       `json:"is_rollback"`
	TimeoutSeconds int                        `json:"timeout_seconds"`
	Connector      models.ConnectorKind       `json:"connector"`
	Credential     models.CredentialReference `json:"credential"`
	ExpectedOutput models.ExpectedOutput      `json:"expected_output,omitempty"`

	// Environment, TargetHost, BlastRadius, MarkedDestructive,
	// ApprovedByAdmin carry what the Worker Runtime's dispatch-time Policy
	// Engine re-check needs (§4.3 step 1, §4.5) without a second round trip
	// to the store.
	Environment       string             `json:"environment,omitempty"`
	TargetHost        string             `json:"target_host,omitempty"`
	BlastRadius       models.BlastRadius `json:"blast_radius,omitempty"`
	MarkedDestructive bool               `json:"marked_destructive,omitempty"`
	ApprovedByAdmin   bool               `json:"approved_by_admin,omitempty"`
	ApproverRole      string             `json:"approver_role,omitempty"`
}
