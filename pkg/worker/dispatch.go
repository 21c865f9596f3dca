package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/orchestrator/pkg/connector"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/masking"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
	"github.com/codeready-toolchain/orchestrator/pkg/policy"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
)

// process claims one assignment through the full pipeline named in §4.3
// step 2: policy check, credential fetch, connector invocation, output
// streaming/masking, result reporting. It always Acks the message —
// duplicate delivery is handled by the idempotency key, not by leaving the
// message pending — except when the orchestrator call that would record
// the outcome itself fails, in which case Nak lets the ACK window expire
// and redeliver it.
func (r *Runtime) process(ctx context.Context, slot *slotState, msg queue.ClaimedMessage) {
	log := slog.With("worker_id", r.workerID, "session_id", msg.SessionID, "step_index", msg.StepIndex)

	var payload queue.SessionCommandPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Error("dropping unparseable command payload", "error", err)
		_ = r.queue.Ack(ctx, msg)
		return
	}

	slot.setWorking(msg.SessionID)
	r.adjustLoad(1)
	defer func() {
		slot.setIdle()
		r.adjustLoad(-1)
	}()

	result := r.runStep(ctx, msg, payload)

	reportErr := r.reportResult(ctx, msg, payload, result)
	if reportErr != nil {
		log.Error("reporting step result to state machine", "error", reportErr)
		r.queue.Nak(ctx, msg, reportErr.Error())
		return
	}
	if err := r.queue.Ack(ctx, msg); err != nil && !errors.Is(err, queue.ErrMessageNotPending) {
		log.Warn("acking processed message", "error", err)
	}
}

// stepOutcome is the connector-agnostic result of running (or being denied)
// one step, ready to translate into a session.StepResult.
type stepOutcome struct {
	success      bool
	stdout       string
	stderr       string
	exitCode     int
	durationMS   int64
	errorKind    string
	errorMessage string
}

func (r *Runtime) runStep(ctx context.Context, msg queue.ClaimedMessage, payload queue.SessionCommandPayload) stepOutcome {
	decision, err := r.policy.Evaluate(policy.Input{
		Command:           payload.Command,
		TargetHost:        payload.TargetHost,
		Environment:       payload.Environment,
		Worker:            r.selfWorker(),
		WorkerScopedProd:  r.scopedForEnvironment(payload.Environment),
		BlastRadius:       payload.BlastRadius,
		MarkedDestructive: payload.MarkedDestructive,
		ApprovedByAdmin:   payload.ApprovedByAdmin,
		ApproverRole:      payload.ApproverRole,
	})
	if err != nil {
		return stepOutcome{errorKind: string(orcherr.KindInternal), errorMessage: fmt.Sprintf("policy evaluation failed: %v", err)}
	}
	if decision.Decision != policy.DecisionAllow {
		return stepOutcome{errorKind: string(orcherr.KindPolicyDenied), errorMessage: decision.Reason}
	}

	conn, ok := r.connectors.Get(payload.Connector)
	if !ok {
		return stepOutcome{errorKind: string(orcherr.KindConnectorPermanent), errorMessage: fmt.Sprintf("no connector registered for kind %q", payload.Connector)}
	}

	handle, err := r.creds.Fetch(ctx, payload.Credential, credentialTTL(payload.TimeoutSeconds))
	if err != nil {
		return stepOutcome{errorKind: string(orcherr.KindCredentialError), errorMessage: err.Error()}
	}
	defer r.creds.Release(handle)

	sink := &streamingSink{
		ctx:       ctx,
		publisher: r.publisher,
		sessionID: msg.SessionID,
		stepIndex: msg.StepIndex,
		masker:    r.masker,
	}

	cmd := connector.Command{
		Text:    payload.Command,
		Shell:   payload.Shell,
		Timeout: time.Duration(payload.TimeoutSeconds) * time.Second,
	}
	target := models.ConnectionTarget{Host: payload.TargetHost}

	cb := r.breakers.forTarget(breakerKey(payload.Connector, payload.TargetHost))
	result, err := cb.Execute(func() (*connector.ExecutionResult, error) {
		res, execErr := conn.Execute(ctx, target, handle, cmd, sink)
		if execErr != nil {
			return nil, execErr
		}
		if res != nil && res.ErrKind == orcherr.KindTargetBusy {
			return res, orcherr.New(orcherr.KindTargetBusy, "target busy")
		}
		return res, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return stepOutcome{errorKind: string(orcherr.KindTargetBusy), errorMessage: "target is repeatedly busy; circuit open"}
		}
		if result != nil && result.ErrKind == orcherr.KindTargetBusy {
			return outcomeFromResult(result, r.masker)
		}
		return stepOutcome{errorKind: string(orcherr.KindConnectorTransient), errorMessage: err.Error()}
	}

	return outcomeFromResult(result, r.masker)
}

func outcomeFromResult(res *connector.ExecutionResult, masker *masking.Service) stepOutcome {
	stdout, stderr := res.Stdout, res.Stderr
	if masker != nil {
		stdout = masker.Redact(stdout)
		stderr = masker.Redact(stderr)
	}
	return stepOutcome{
		success:      res.Success,
		stdout:       stdout,
		stderr:       stderr,
		exitCode:     res.ExitCode,
		durationMS:   res.Duration.Milliseconds(),
		errorKind:    string(res.ErrKind),
		errorMessage: errMessageFor(res),
	}
}

func errMessageFor(res *connector.ExecutionResult) string {
	if res.Success || res.ErrKind == "" {
		return ""
	}
	return fmt.Sprintf("%s: exit code %d", res.ErrKind, res.ExitCode)
}

func breakerKey(kind models.ConnectorKind, targetHost string) string {
	return fmt.Sprintf("%s:%s", kind, targetHost)
}

// credentialTTL bounds the fetch TTL to the step's own timeout (plus a
// small margin), since the credential never needs to outlive the command
// it authenticates (§4.6: "TTL ≤ 5 minutes").
func credentialTTL(timeoutSeconds int) time.Duration {
	if timeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(timeoutSeconds)*time.Second + 30*time.Second
}

// selfWorker builds the models.AgentWorker view of this runtime's own
// registration, for the Policy Engine's production-scoping rule.
func (r *Runtime) selfWorker() models.AgentWorker {
	return models.AgentWorker{
		WorkerID:       r.workerID,
		TenantScope:    r.cfg.TenantScope,
		NetworkSegment: r.cfg.NetworkSegment,
		CapabilitySet:  r.cfg.CapabilitySet,
		MaxLoad:        r.cfg.MaxLoad,
	}
}

// scopedForEnvironment reports whether this worker may serve production
// credentials: it must be explicitly registered in a network segment
// named "production" (§4.5: "production credentials are accessible only
// from workers scoped to production").
func (r *Runtime) scopedForEnvironment(environment string) bool {
	if environment != "production" {
		return true
	}
	return r.cfg.NetworkSegment == "production"
}

func (r *Runtime) reportResult(ctx context.Context, msg queue.ClaimedMessage, payload queue.SessionCommandPayload, outcome stepOutcome) error {
	result := session.StepResult{
		Success:        outcome.success,
		Stdout:         outcome.stdout,
		Stderr:         outcome.stderr,
		ExitCode:       outcome.exitCode,
		ExecutionMS:    outcome.durationMS,
		ErrorKind:      outcome.errorKind,
		ErrorMessage:   outcome.errorMessage,
		IdempotencyKey: msg.IdempotencyKey,
	}

	if payload.IsRollback {
		return r.machine.RecordRollbackResult(ctx, msg.SessionID, msg.StepIndex, r.workerID, result)
	}
	return r.machine.RecordStepResult(ctx, msg.SessionID, msg.StepIndex, r.workerID, result)
}

// streamingSink forwards connector output chunks to step.output events,
// tracking a monotonic per-step sequence number and masking credential-
// shaped content before it ever reaches an operator or durable storage
// (§4.3 step 3/4).
type streamingSink struct {
	ctx       context.Context
	publisher EventPublisher
	sessionID string
	stepIndex int
	masker    *masking.Service
	seq       int
}

func (s *streamingSink) Write(kind connector.OutputChunkKind, data []byte) error {
	if s.publisher == nil {
		return nil
	}
	s.seq++
	delta := string(data)
	if s.masker != nil {
		delta = s.masker.Redact(delta)
	}
	return s.publisher.PublishStepOutput(s.ctx, s.sessionID, events.StepOutputPayload{
		Type:      events.EventTypeStepOutput,
		SessionID: s.sessionID,
		StepIndex: s.stepIndex,
		Stream:    string(kind),
		Delta:     delta,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}
