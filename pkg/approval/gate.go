// Package approval implements the Approval Gate (§4.7): SLA-driven
// escalation over pending approvals, and the idempotent resolve path that
// the operator API calls into from a REST callback.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
)

// ApprovalStore is the slice of database.Store the Gate reads for its
// sweep. Narrowed to an interface so tests substitute a fake without
// standing up Postgres.
type ApprovalStore interface {
	ListOverdueApprovals(ctx context.Context, before time.Time) ([]models.PendingApproval, error)
	GetStep(ctx context.Context, sessionID string, stepIndex int) (models.ExecutionStep, error)
}

// SessionMachine is the slice of *session.Machine the Gate calls into.
type SessionMachine interface {
	ApproveStep(ctx context.Context, sessionID string, stepIndex int, approver string, decision session.ApprovalDecision, approvedByAdmin bool, approverRole, notes string) error
	ExpireApproval(ctx context.Context, sessionID string, stepIndex int) error
}

// Escalator notifies an operator-facing channel when an approval's SLA
// elapses unresolved. Implementations must be nil-safe no-ops when
// unconfigured (matches pkg/slack.Service's nil-receiver convention).
type Escalator interface {
	NotifyApprovalExpired(ctx context.Context, input EscalationInput)
}

// EscalationInput carries what an Escalator needs to compose its
// notification without depending on models directly.
type EscalationInput struct {
	SessionID string
	StepIndex int
	StepName  string
}

// Gate runs the periodic SLA sweep and forwards operator resolutions to the
// Session State Machine.
type Gate struct {
	store     ApprovalStore
	machine   SessionMachine
	escalator Escalator
	cron      *cron.Cron
	log       *slog.Logger
}

// NewGate constructs a Gate. escalator may be nil (escalation becomes a
// no-op, e.g. in a dev environment with no Slack token configured).
func NewGate(store ApprovalStore, machine SessionMachine, escalator Escalator) *Gate {
	return &Gate{
		store:     store,
		machine:   machine,
		escalator: escalator,
		cron:      cron.New(),
		log:       slog.With("component", "approval.gate"),
	}
}

// Start schedules the SLA sweep on the given cron expression (e.g.
// "@every 30s") and begins running it in the background. Call Stop to
// drain in-flight sweeps on shutdown.
func (g *Gate) Start(schedule string) error {
	_, err := g.cron.AddFunc(schedule, g.sweepOnce)
	if err != nil {
		return err
	}
	g.cron.Start()
	return nil
}

// Stop blocks until any in-flight sweep completes, then halts scheduling.
func (g *Gate) Stop() {
	<-g.cron.Stop().Done()
}

// sweepOnce scans for approvals whose SLA deadline has passed, expires
// each one through the State Machine, and escalates via the configured
// notifier (§4.7: "on timeout, it emits approval.expired and notifies a
// configured escalation channel").
func (g *Gate) sweepOnce() {
	ctx := context.Background()
	overdue, err := g.store.ListOverdueApprovals(ctx, time.Now())
	if err != nil {
		g.log.Error("listing overdue approvals", "error", err)
		return
	}

	for _, a := range overdue {
		if err := g.machine.ExpireApproval(ctx, a.SessionID, a.StepIndex); err != nil {
			g.log.Error("expiring approval", "session_id", a.SessionID, "step_index", a.StepIndex, "error", err)
			continue
		}

		stepName := ""
		if step, err := g.store.GetStep(ctx, a.SessionID, a.StepIndex); err != nil {
			g.log.Warn("resolving step name for escalation", "session_id", a.SessionID, "step_index", a.StepIndex, "error", err)
		} else {
			stepName = step.Name
		}

		if g.escalator != nil {
			g.escalator.NotifyApprovalExpired(ctx, EscalationInput{
				SessionID: a.SessionID,
				StepIndex: a.StepIndex,
				StepName:  stepName,
			})
		}
	}
}

// Resolve forwards an operator's approve/reject decision to the State
// Machine. It is idempotent keyed by (session_id, step_index, decision):
// the State Machine itself treats a repeated identical decision as a
// no-op, so the Gate never needs its own dedup bookkeeping (§4.7).
func (g *Gate) Resolve(ctx context.Context, sessionID string, stepIndex int, approver string, decision session.ApprovalDecision, approvedByAdmin bool, approverRole, notes string) error {
	return g.machine.ApproveStep(ctx, sessionID, stepIndex, approver, decision, approvedByAdmin, approverRole, notes)
}
