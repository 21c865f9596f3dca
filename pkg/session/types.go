// Package session implements the Session State Machine (§4.2): the sole
// writer of ExecutionSession and ExecutionStep state, operating as a
// serial handler keyed by session id.
package session

import (
	"context"

	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
)

// CreateSessionRequest is the public create_session contract (§4.2).
type CreateSessionRequest struct {
	TenantID       string
	Ticket         models.Ticket
	Runbook        models.RunbookSpec
	Mode           models.ValidationMode
	Inputs         map[string]string
	IdempotencyKey string
}

// StepResult is what a Worker Runtime reports back via record_step_result
// (§4.2). It is deliberately a narrow, connector-agnostic shape — the
// Worker translates a connector.ExecutionResult into this before calling
// in, so the State Machine never depends on connector internals.
type StepResult struct {
	Success        bool
	Stdout         string
	Stderr         string
	ExitCode       int
	ExecutionMS    int64
	ErrorKind      string
	ErrorMessage   string
	IdempotencyKey string
}

// ApprovalDecision is the decision carried by approve_step (§4.2, §4.7).
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// EventPublisher is the slice of *events.EventPublisher the state machine
// calls into. Narrowed to an interface here so tests substitute a fake
// without standing up Postgres (§10.4).
type EventPublisher interface {
	PublishSessionStatus(ctx context.Context, sessionID string, payload events.SessionStatusPayload) error
	PublishStepStatus(ctx context.Context, sessionID string, payload events.StepStatusPayload) error
	PublishApprovalRequested(ctx context.Context, sessionID string, payload events.ApprovalRequestedPayload) error
	PublishApprovalResolved(ctx context.Context, sessionID string, payload events.ApprovalResolvedPayload) error
}

// CommandEnqueuer is the slice of *queue.Queue the state machine calls into
// to dispatch a session.command message (§4.2 step 2, §5).
type CommandEnqueuer interface {
	Enqueue(ctx context.Context, msg queue.CommandMessage) error
}

// ConnectionResolver matches a ticket to the registered InfrastructureConnection
// it should run against (§3: "derived for a session by matching ci_hint /
// service / environment to registered connections"). Resolved once at
// create_session and stamped onto every step, since one session runs
// against one target for its whole lifetime.
type ConnectionResolver interface {
	Resolve(ctx context.Context, tenantID string, ticket models.Ticket) (models.InfrastructureConnection, error)
}
