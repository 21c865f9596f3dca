package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/connector"
	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
)

// Machine is the Session State Machine (§4.2): the sole writer of
// ExecutionSession and ExecutionStep status, single-writer-per-session via
// keyedLocks.
type Machine struct {
	store     database.Store
	publisher EventPublisher
	queue     CommandEnqueuer
	resolver  ConnectionResolver
	system    config.SystemConfig
	locks     *keyedLocks
	log       *slog.Logger
	notifier  TicketNotifier
}

// TicketNotifier is the slice of *ticketadapter.Adapter the Machine calls
// once a session reaches a terminal status: classifying the run's outcome
// and forwarding it to the ticket system. Left unset, terminal sessions
// are recorded but no ticket status callback fires.
type TicketNotifier interface {
	Notify(ctx context.Context, session models.ExecutionSession, steps []models.ExecutionStep) error
}

// SetTicketNotifier wires the optional ticket outcome notifier in after
// construction, mirroring api.Server's SetMatcher pattern for collaborators
// that close a dependency cycle with their owner.
func (m *Machine) SetTicketNotifier(n TicketNotifier) {
	m.notifier = n
}

// notifyTicket best-effort notifies the configured TicketNotifier once a
// session has reached a terminal status. Failures are logged, not
// returned: the session's own terminal state is already durably recorded,
// and the ticket callback is a downstream side effect of it.
func (m *Machine) notifyTicket(ctx context.Context, session models.ExecutionSession) {
	if m.notifier == nil {
		return
	}
	steps, err := m.store.ListSteps(ctx, session.SessionID)
	if err != nil {
		m.log.Error("listing steps for ticket notification", "session_id", session.SessionID, "error", err)
		return
	}
	if err := m.notifier.Notify(ctx, session, steps); err != nil {
		m.log.Error("notifying ticket adapter", "session_id", session.SessionID, "error", err)
	}
}

// NewMachine constructs a Machine. resolver may be nil; if so, steps are
// dispatched without a stamped connector/credential and the Worker Runtime
// is expected to resolve them itself (useful for local/dry-run connectors
// that need no registered connection).
func NewMachine(store database.Store, publisher EventPublisher, q CommandEnqueuer, resolver ConnectionResolver, system config.SystemConfig) *Machine {
	return &Machine{
		store:     store,
		publisher: publisher,
		queue:     q,
		resolver:  resolver,
		system:    system,
		locks:     newKeyedLocks(),
		log:       slog.With("component", "session.machine"),
	}
}

// CreateSession validates and creates a new session (§4.2 create_session).
func (m *Machine) CreateSession(ctx context.Context, req CreateSessionRequest) (models.ExecutionSession, error) {
	if req.Runbook.Approval != models.RunbookApproved {
		return models.ExecutionSession{}, orcherr.New(orcherr.KindValidation, "runbook is not approved")
	}
	mode := req.Mode
	if !mode.IsValid() {
		return models.ExecutionSession{}, orcherr.New(orcherr.KindValidation, "unknown validation mode")
	}
	if req.Runbook.BlastRadius == models.BlastRadiusDestructive && mode != models.ValidationPerStep {
		return models.ExecutionSession{}, orcherr.New(orcherr.KindValidation, "destructive runbooks require per_step validation")
	}

	var conn models.InfrastructureConnection
	if m.resolver != nil {
		resolved, err := m.resolver.Resolve(ctx, req.TenantID, req.Ticket)
		if err != nil {
			return models.ExecutionSession{}, orcherr.Wrap(orcherr.KindCredentialError, "resolving infrastructure connection", err)
		}
		conn = resolved
	}

	now := time.Now()
	session := models.ExecutionSession{
		SessionID:      uuid.New().String(),
		TenantID:       req.TenantID,
		TicketID:       req.Ticket.TicketID,
		Runbook:        models.RunbookRef{RunbookID: req.Runbook.RunbookID, Version: req.Runbook.Version},
		ValidationMode: mode,
		SandboxProfile: req.Ticket.Environment,
		Status:         models.SessionQueued,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, isNew, err := m.store.CreateSession(ctx, session)
	if err != nil {
		return models.ExecutionSession{}, orcherr.Wrap(orcherr.KindInternal, "creating session", err)
	}
	if !isNew {
		// idempotency key collision: the existing session is returned
		// unchanged, never re-created (§4.2 tie-break, §8 round-trip law).
		return stored, nil
	}

	steps := req.Runbook.AllSteps()
	if len(steps) == 0 {
		// §8 boundary: a runbook with zero steps completes immediately.
		m.log.Warn("runbook has no steps, completing session immediately", "session_id", stored.SessionID)
		completedAt := now
		stored.Status = models.SessionCompleted
		stored.CompletedAt = &completedAt
		if err := m.store.UpdateSession(ctx, stored); err != nil {
			return models.ExecutionSession{}, orcherr.Wrap(orcherr.KindInternal, "completing empty-runbook session", err)
		}
		m.publishSessionStatus(ctx, stored)
		return stored, nil
	}

	for i, step := range steps {
		execStep := buildExecutionStep(stored.SessionID, i, step, req.Inputs, req.Runbook.BlastRadius, conn)
		if err := m.store.UpsertStep(ctx, execStep); err != nil {
			return models.ExecutionSession{}, orcherr.Wrap(orcherr.KindInternal, "creating step", err)
		}
	}

	m.publishSessionStatus(ctx, stored)
	return stored, nil
}

func buildExecutionStep(sessionID string, index int, step models.RunbookStep, inputs map[string]string, radius models.BlastRadius, conn models.InfrastructureConnection) models.ExecutionStep {
	policy := models.DefaultRetryPolicy(radius)
	if step.RetryPolicy != nil {
		policy = *step.RetryPolicy
	}

	exec := models.ExecutionStep{
		SessionID:        sessionID,
		StepIndex:        index,
		Name:             step.Name,
		Phase:            step.Phase,
		Kind:             step.Kind,
		RequiresApproval: step.RequiresApprovalFor(radius),
		Status:           models.StepPending,
		Credential:       conn.Credential,
		Connector:        conn.Connector,
		BlastRadius:      radius,
		TargetHost:       conn.Target.Host,
		RetryPolicy:      policy,
		IdempotencyKey:   uuid.New().String(),
	}

	if step.Kind == models.StepKindCommand {
		exec.Command = connector.BindTemplate(step.Command.Command, inputs, step.Command.Shell)
		exec.RollbackCommand = connector.BindTemplate(step.Command.RollbackCommand, inputs, step.Command.Shell)
		exec.Shell = step.Command.Shell
		exec.TimeoutSeconds = step.Command.TimeoutSeconds
		exec.ExpectedOutput = step.Command.ExpectedOutput
	}

	return exec
}

// Advance is the idempotent tick that inspects current step status and
// selects the next transition (§4.2).
func (m *Machine) Advance(ctx context.Context, sessionID string) error {
	return m.locks.withLock(sessionID, func() error {
		return m.advanceLocked(ctx, sessionID)
	})
}

func (m *Machine) advanceLocked(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	if session.Status.IsTerminal() {
		return nil
	}
	if session.Status == models.SessionPaused || session.Status == models.SessionWaitingForApproval {
		// suspended: no timer ticks advance it (§5); only approve_step,
		// ExpireApproval, or cancel move it forward.
		return nil
	}

	step, err := m.store.GetStep(ctx, sessionID, session.CurrentStepIndex)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading current step", err)
	}

	switch step.Status {
	case models.StepPending:
		return m.handlePendingStep(ctx, session, step)
	case models.StepApproved:
		return m.dispatchStep(ctx, session, step)
	case models.StepSucceeded, models.StepSkipped:
		return m.advancePastStep(ctx, session, step)
	case models.StepFailed:
		return m.beginRollback(ctx, session, step)
	case models.StepRunning, models.StepAwaitingApproval:
		// waiting on an external event: a worker result or an approval
		// resolution. Nothing to do on this tick.
		return nil
	default:
		return orcherr.New(orcherr.KindInternal, fmt.Sprintf("unexpected step status %q", step.Status))
	}
}

// needsApprovalGate applies validation_mode density on top of the step's
// own RequiresApproval flag (§3: validation_mode ∈ {per_step, per_phase,
// critical_only, final_only}).
func (m *Machine) needsApprovalGate(session models.ExecutionSession, step models.ExecutionStep, allSteps []models.ExecutionStep) bool {
	if !step.RequiresApproval {
		return false
	}
	switch session.ValidationMode {
	case models.ValidationPerStep:
		return true
	case models.ValidationPerPhase:
		// only the first approval-requiring step of each phase actually
		// gates; later steps in the same phase proceed once that one is
		// resolved.
		for _, s := range allSteps {
			if s.Phase != step.Phase {
				continue
			}
			if s.StepIndex == step.StepIndex {
				return true
			}
			if s.RequiresApproval {
				return false
			}
		}
		return true
	case models.ValidationCriticalOnly:
		return step.Phase == models.PhaseMain
	case models.ValidationFinalOnly:
		return step.StepIndex == allSteps[len(allSteps)-1].StepIndex
	default:
		return true
	}
}

func (m *Machine) handlePendingStep(ctx context.Context, session models.ExecutionSession, step models.ExecutionStep) error {
	allSteps, err := m.store.ListSteps(ctx, session.SessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "listing steps", err)
	}

	if m.needsApprovalGate(session, step, allSteps) {
		deadline := time.Now().Add(m.system.ApprovalSLAFor(session.SandboxProfile))

		step.Status = models.StepAwaitingApproval
		if err := m.store.UpsertStep(ctx, step); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "marking step awaiting approval", err)
		}
		if err := m.store.CreateApprovalRequest(ctx, session.SessionID, step.StepIndex, "pending", "", deadline); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "recording approval request", err)
		}

		session.Status = models.SessionWaitingForApproval
		session.WaitingForApproval = true
		session.ApprovalStepIndex = step.StepIndex
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "updating session", err)
		}

		m.publishStepStatus(ctx, step)
		m.publishSessionStatus(ctx, session)
		m.publisher.PublishApprovalRequested(ctx, session.SessionID, events.ApprovalRequestedPayload{
			Type:        events.EventTypeApprovalRequested,
			SessionID:   session.SessionID,
			StepIndex:   step.StepIndex,
			SLADeadline: deadline.Format(time.RFC3339Nano),
			Timestamp:   time.Now().Format(time.RFC3339Nano),
		})
		return nil
	}

	return m.dispatchStep(ctx, session, step)
}

func (m *Machine) dispatchStep(ctx context.Context, session models.ExecutionSession, step models.ExecutionStep) error {
	if step.Kind == models.StepKindManual {
		// manual steps generate no command dispatch; they wait for an
		// explicit operator acknowledgment (§9 open question, decided:
		// explicit "mark done", not automatic on reaching the step).
		now := time.Now()
		step.Status = models.StepRunning
		step.StartedAt = &now
		if err := m.store.UpsertStep(ctx, step); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "starting manual step", err)
		}
		m.publishStepStatus(ctx, step)
		return nil
	}

	payload, err := json.Marshal(queue.SessionCommandPayload{
		Command:           step.Command,
		Shell:             step.Shell,
		IsRollback:        false,
		TimeoutSeconds:    step.TimeoutSeconds,
		Connector:         step.Connector,
		Credential:        step.Credential,
		ExpectedOutput:    step.ExpectedOutput,
		Environment:       session.SandboxProfile,
		TargetHost:        step.TargetHost,
		BlastRadius:       step.BlastRadius,
		MarkedDestructive: step.BlastRadius == models.BlastRadiusDestructive,
		ApprovedByAdmin:   step.ApprovedByAdmin,
		ApproverRole:      step.ApproverRole,
	})
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling command payload", err)
	}

	if err := m.queue.Enqueue(ctx, queue.CommandMessage{
		SessionID:      session.SessionID,
		StepIndex:      step.StepIndex,
		IdempotencyKey: step.IdempotencyKey,
		Payload:        payload,
	}); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "enqueueing step command", err)
	}

	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now
	if err := m.store.UpsertStep(ctx, step); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marking step running", err)
	}

	session.Status = models.SessionExecuting
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "updating session", err)
	}

	m.publishStepStatus(ctx, step)
	m.publishSessionStatus(ctx, session)
	return nil
}

func (m *Machine) advancePastStep(ctx context.Context, session models.ExecutionSession, step models.ExecutionStep) error {
	allSteps, err := m.store.ListSteps(ctx, session.SessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "listing steps", err)
	}
	if step.StepIndex+1 < len(allSteps) {
		session.CurrentStepIndex = step.StepIndex + 1
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "advancing current step index", err)
		}
		return m.advanceLocked(ctx, session.SessionID)
	}

	now := time.Now()
	session.Status = models.SessionCompleted
	session.CompletedAt = &now
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "completing session", err)
	}
	m.publishSessionStatus(ctx, session)
	m.notifyTicket(ctx, session)
	return nil
}

// beginRollback enters the rollback phase (if not already in it) and
// dispatches the first rollback candidate (§4.2 bullet 4, §8 scenario 3/5).
func (m *Machine) beginRollback(ctx context.Context, session models.ExecutionSession, failedStep models.ExecutionStep) error {
	if session.Status != models.SessionRollback {
		session.Status = models.SessionRollback
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "entering rollback", err)
		}
		m.publishSessionStatus(ctx, session)
	}
	return m.continueRollbackLocked(ctx, session.SessionID)
}

// continueRollbackLocked dispatches the next not-yet-attempted rollback
// candidate (highest step index first), or finalizes the session once no
// candidate remains. Rollback continues even if individual rollback steps
// fail (§4.2 bullet 4: "continue rollback even if individual rollback
// steps fail, recording each").
func (m *Machine) continueRollbackLocked(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	allSteps, err := m.store.ListSteps(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "listing steps for rollback", err)
	}

	hasFailed := false
	for i := len(allSteps) - 1; i >= 0; i-- {
		s := allSteps[i]
		if s.Status == models.StepFailed {
			hasFailed = true
		}
		if s.Status == models.StepSucceeded && s.HasRollback() && !s.RollbackResult.Attempted {
			return m.dispatchRollback(ctx, session, s)
		}
	}

	now := time.Now()
	if hasFailed {
		session.Status = models.SessionFailed
	} else {
		session.Status = models.SessionCancelled
	}
	session.CompletedAt = &now
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "finalizing session after rollback", err)
	}
	m.publishSessionStatus(ctx, session)
	m.notifyTicket(ctx, session)
	return nil
}

func (m *Machine) dispatchRollback(ctx context.Context, session models.ExecutionSession, step models.ExecutionStep) error {
	payload, err := json.Marshal(queue.SessionCommandPayload{
		Command:           step.RollbackCommand,
		Shell:             step.Shell,
		IsRollback:        true,
		TimeoutSeconds:    step.TimeoutSeconds,
		Connector:         step.Connector,
		Credential:        step.Credential,
		Environment:       session.SandboxProfile,
		TargetHost:        step.TargetHost,
		BlastRadius:       step.BlastRadius,
		MarkedDestructive: step.BlastRadius == models.BlastRadiusDestructive,
		ApprovedByAdmin:   step.ApprovedByAdmin,
		ApproverRole:      step.ApproverRole,
	})
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling rollback payload", err)
	}

	rollbackKey := step.IdempotencyKey + ":rollback"
	if err := m.queue.Enqueue(ctx, queue.CommandMessage{
		SessionID:      session.SessionID,
		StepIndex:      step.StepIndex,
		IdempotencyKey: rollbackKey,
		Payload:        payload,
	}); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "enqueueing rollback command", err)
	}

	step.RollbackResult = models.RollbackResult{Attempted: true}
	if err := m.store.UpsertStep(ctx, step); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "recording rollback attempt", err)
	}
	return nil
}

// RecordStepResult applies a worker's reported outcome for a step (§4.2
// record_step_result). Only accepted if the reporting worker is the
// current assignee and the step is running; any violation is a protocol
// error that pauses the session (§4.2).
func (m *Machine) RecordStepResult(ctx context.Context, sessionID string, stepIndex int, workerID string, result StepResult) error {
	return m.locks.withLock(sessionID, func() error {
		return m.recordStepResultLocked(ctx, sessionID, stepIndex, workerID, result)
	})
}

func (m *Machine) recordStepResultLocked(ctx context.Context, sessionID string, stepIndex int, workerID string, result StepResult) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	step, err := m.store.GetStep(ctx, sessionID, stepIndex)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading step", err)
	}

	if step.Status.IsTerminal() {
		if step.IdempotencyKey == result.IdempotencyKey {
			// duplicate delivery with the same idempotency key: the prior
			// outcome stands, never re-executed (§4.2 tie-break, §8 law).
			return nil
		}
		return m.protocolError(ctx, session, fmt.Sprintf("step result for terminal step %d with mismatched idempotency key", stepIndex))
	}
	if session.AssignedWorkerID != "" && session.AssignedWorkerID != workerID {
		return m.protocolError(ctx, session, fmt.Sprintf("step result from non-assigned worker %s", workerID))
	}
	if step.Status != models.StepRunning {
		return m.protocolError(ctx, session, fmt.Sprintf("step result for step %d not in running state (status=%s)", stepIndex, step.Status))
	}

	now := time.Now()
	step.Stdout = result.Stdout
	step.Stderr = result.Stderr
	step.ExitCode = result.ExitCode
	step.ExecutionMS = result.ExecutionMS
	step.CompletedAt = &now

	if result.Success {
		step.Status = models.StepSucceeded
	} else {
		step.Status = models.StepFailed
		step.ErrorKind = result.ErrorKind
		step.ErrorMessage = result.ErrorMessage
	}

	if err := m.store.UpsertStep(ctx, step); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "recording step result", err)
	}
	m.publishStepStatus(ctx, step)

	return m.advanceLocked(ctx, sessionID)
}

// RecordRollbackResult applies a worker's reported outcome for a rollback
// command dispatched by beginRollback/cancelLocked. Unlike RecordStepResult,
// the target step is already terminal (succeeded) — only its RollbackResult
// fields mutate, never Status (§3 ExecutionStep invariant: "once succeeded
// or failed, mutation forbidden except for the rollback fields").
func (m *Machine) RecordRollbackResult(ctx context.Context, sessionID string, stepIndex int, workerID string, result StepResult) error {
	return m.locks.withLock(sessionID, func() error {
		return m.recordRollbackResultLocked(ctx, sessionID, stepIndex, workerID, result)
	})
}

func (m *Machine) recordRollbackResultLocked(ctx context.Context, sessionID string, stepIndex int, workerID string, result StepResult) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	if session.Status != models.SessionRollback {
		return m.protocolError(ctx, session, fmt.Sprintf("rollback result for step %d while session not in rollback", stepIndex))
	}
	step, err := m.store.GetStep(ctx, sessionID, stepIndex)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading step", err)
	}
	if !step.RollbackResult.Attempted {
		return m.protocolError(ctx, session, fmt.Sprintf("rollback result for step %d with no rollback attempted", stepIndex))
	}
	if step.RollbackResult.Succeeded || step.RollbackResult.Error != "" {
		// already recorded: rollback is never retried, same as a forward
		// step's at-most-once execution discipline.
		return nil
	}

	step.RollbackResult.Succeeded = result.Success
	step.RollbackResult.Output = result.Stdout
	if !result.Success {
		step.RollbackResult.Error = result.ErrorMessage
	}
	if err := m.store.UpsertStep(ctx, step); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "recording rollback result", err)
	}

	return m.continueRollbackLocked(ctx, sessionID)
}

// ApproveStep resolves a pending approval (§4.2 approve_step, §4.7).
// approvedByAdmin carries the explicit `approved_by_admin` claim the
// Policy Engine requires for destructive two-person approval (§4.5); it is
// ignored (but still recorded) for steps that don't require it.
func (m *Machine) ApproveStep(ctx context.Context, sessionID string, stepIndex int, approver string, decision ApprovalDecision, approvedByAdmin bool, approverRole, notes string) error {
	return m.locks.withLock(sessionID, func() error {
		return m.approveStepLocked(ctx, sessionID, stepIndex, approver, decision, approvedByAdmin, approverRole, notes)
	})
}

func (m *Machine) approveStepLocked(ctx context.Context, sessionID string, stepIndex int, approver string, decision ApprovalDecision, approvedByAdmin bool, approverRole, notes string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	step, err := m.store.GetStep(ctx, sessionID, stepIndex)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading step", err)
	}

	if step.Status != models.StepAwaitingApproval {
		// Idempotent repeat of an already-resolved decision: §8's
		// round-trip law requires the same decision twice to be a no-op,
		// not an error.
		if decision == DecisionApproved && step.Status == models.StepApproved {
			return nil
		}
		if decision == DecisionRejected && session.PauseReason == models.PauseReasonApprovalRejected {
			return nil
		}
		if session.PauseReason == models.PauseReasonApprovalExpired {
			return orcherr.New(orcherr.KindApprovalExpired, "approval window has closed")
		}
		return orcherr.New(orcherr.KindValidation, fmt.Sprintf("step %d is not awaiting approval", stepIndex))
	}

	if err := m.store.ResolveApprovalRequest(ctx, sessionID, stepIndex, string(decision), approvedByAdmin); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "resolving approval", err)
	}
	if err := m.store.AppendAuditEntry(ctx, session.TenantID, "approval.resolved", map[string]any{
		"session_id": sessionID, "step_index": stepIndex, "approver": approver,
		"decision": decision, "approved_by_admin": approvedByAdmin, "notes": notes,
	}); err != nil {
		m.log.Error("appending approval audit entry", "session_id", sessionID, "error", err)
	}

	switch decision {
	case DecisionApproved:
		now := time.Now()
		step.Status = models.StepApproved
		step.ApprovedBy = approver
		step.ApprovedAt = &now
		step.ApprovedByAdmin = approvedByAdmin
		step.ApproverRole = approverRole
		if err := m.store.UpsertStep(ctx, step); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "approving step", err)
		}

		session.Status = models.SessionExecuting
		session.WaitingForApproval = false
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "resuming session", err)
		}

		m.publishApprovalResolved(ctx, sessionID, stepIndex, string(decision), approver)
		m.publishSessionStatus(ctx, session)
		return m.advanceLocked(ctx, sessionID)

	case DecisionRejected:
		// rejection pauses the session pending operator direction
		// (retry/cancel/rollback); it is not itself a terminal failure.
		session.Status = models.SessionPaused
		session.PauseReason = models.PauseReasonApprovalRejected
		session.WaitingForApproval = false
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "pausing rejected session", err)
		}

		m.publishApprovalResolved(ctx, sessionID, stepIndex, string(decision), approver)
		m.publishSessionStatus(ctx, session)
		return nil

	default:
		return orcherr.New(orcherr.KindValidation, "unknown approval decision")
	}
}

// ExpireApproval is called by the Approval Gate's SLA timer when a pending
// approval's deadline elapses without resolution (§4.7). It is idempotent:
// if the approval was already resolved before the timer fired, it is a
// no-op.
func (m *Machine) ExpireApproval(ctx context.Context, sessionID string, stepIndex int) error {
	return m.locks.withLock(sessionID, func() error {
		return m.expireApprovalLocked(ctx, sessionID, stepIndex)
	})
}

func (m *Machine) expireApprovalLocked(ctx context.Context, sessionID string, stepIndex int) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	step, err := m.store.GetStep(ctx, sessionID, stepIndex)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading step", err)
	}
	if step.Status != models.StepAwaitingApproval {
		return nil
	}

	if err := m.store.ResolveApprovalRequest(ctx, sessionID, stepIndex, "expired", false); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "resolving expired approval", err)
	}

	// approval timeout does not cancel the session (§5); it marks the
	// approval task expired and requires an operator action to resume.
	session.Status = models.SessionPaused
	session.PauseReason = models.PauseReasonApprovalExpired
	session.WaitingForApproval = false
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "pausing expired session", err)
	}

	m.publishApprovalResolved(ctx, sessionID, stepIndex, "expired", "")
	m.publishSessionStatus(ctx, session)
	return nil
}

// Cancel is allowed from any non-terminal state; it triggers rollback of
// already-succeeded steps in reverse order if any have a rollback command
// (§4.2 cancel).
func (m *Machine) Cancel(ctx context.Context, sessionID string, reason string) error {
	return m.locks.withLock(sessionID, func() error {
		return m.cancelLocked(ctx, sessionID, reason)
	})
}

func (m *Machine) cancelLocked(ctx context.Context, sessionID string, reason string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "loading session", err)
	}
	if session.Status.IsTerminal() {
		return nil
	}

	if err := m.store.AppendAuditEntry(ctx, session.TenantID, "session.cancelled", map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	}); err != nil {
		m.log.Error("appending cancel audit entry", "session_id", sessionID, "error", err)
	}

	allSteps, err := m.store.ListSteps(ctx, sessionID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "listing steps for cancel", err)
	}

	for i := len(allSteps) - 1; i >= 0; i-- {
		if allSteps[i].Status != models.StepSucceeded || !allSteps[i].HasRollback() {
			continue
		}
		session.Status = models.SessionRollback
		if err := m.store.UpdateSession(ctx, session); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "entering rollback on cancel", err)
		}
		m.publishSessionStatus(ctx, session)
		return m.dispatchRollback(ctx, session, allSteps[i])
	}

	now := time.Now()
	session.Status = models.SessionCancelled
	session.CompletedAt = &now
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "cancelling session", err)
	}
	m.publishSessionStatus(ctx, session)
	m.notifyTicket(ctx, session)
	return nil
}

func (m *Machine) protocolError(ctx context.Context, session models.ExecutionSession, detail string) error {
	m.log.Error("protocol error, pausing session", "session_id", session.SessionID, "detail", detail)
	session.Status = models.SessionPaused
	session.PauseReason = models.PauseReasonProtocolError
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "pausing session after protocol error", err)
	}
	m.publishSessionStatus(ctx, session)
	return orcherr.New(orcherr.KindValidation, "protocol error: "+detail)
}

func (m *Machine) publishSessionStatus(ctx context.Context, session models.ExecutionSession) {
	if err := m.publisher.PublishSessionStatus(ctx, session.SessionID, events.SessionStatusPayload{
		Type:        events.EventTypeSessionStatus,
		SessionID:   session.SessionID,
		Status:      string(session.Status),
		PauseReason: string(session.PauseReason),
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		m.log.Error("publishing session status", "session_id", session.SessionID, "error", err)
	}
}

func (m *Machine) publishStepStatus(ctx context.Context, step models.ExecutionStep) {
	if err := m.publisher.PublishStepStatus(ctx, step.SessionID, events.StepStatusPayload{
		Type:      events.EventTypeStepStatus,
		SessionID: step.SessionID,
		StepIndex: step.StepIndex,
		StepName:  step.Name,
		Status:    string(step.Status),
		ExitCode:  step.ExitCode,
		ErrorKind: step.ErrorKind,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		m.log.Error("publishing step status", "session_id", step.SessionID, "step_index", step.StepIndex, "error", err)
	}
}

func (m *Machine) publishApprovalResolved(ctx context.Context, sessionID string, stepIndex int, decision, approvedBy string) {
	if err := m.publisher.PublishApprovalResolved(ctx, sessionID, events.ApprovalResolvedPayload{
		Type:       events.EventTypeApprovalResolved,
		SessionID:  sessionID,
		StepIndex:  stepIndex,
		Decision:   decision,
		ApprovedBy: approvedBy,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		m.log.Error("publishing approval resolved", "session_id", sessionID, "step_index", stepIndex, "error", err)
	}
}
