// Package ticketadapter implements the Ticket Outcome Adapter (§4.9):
// translate a session's terminal state into one external ticket status
// call, idempotent on the session's own idempotency key.
package ticketadapter

import (
	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// Classify maps a terminal session plus its steps onto one of the four
// outcomes named in §4.9:
//   - resolved: every step succeeded and every postcheck step passed.
//   - escalated: the session failed and no step rolled back cleanly, or
//     a postcheck step failed (ran, but didn't confirm the fix).
//   - in_progress: at least one step rolled back cleanly, but the session
//     still ended in failure — ambiguous, since the rollback undid the
//     change but the underlying issue is unconfirmed either way.
//   - closed: the session never ran a single step (cancelled before
//     execution began) — a false-positive classification.
//
// Classify only looks at terminal sessions; callers must not call it on a
// session still in flight (session.Status.IsTerminal() == false).
func Classify(s models.ExecutionSession, steps []models.ExecutionStep) models.TicketStatus {
	if s.Status == models.SessionCancelled && !anyStepRan(steps) {
		return models.TicketClosed
	}

	if s.Status == models.SessionCompleted {
		if allPostchecksPassed(steps) {
			return models.TicketResolved
		}
		return models.TicketEscalated
	}

	// SessionFailed or SessionCancelled-after-some-execution.
	if anyStepRolledBackCleanly(steps) {
		return models.TicketInProgress
	}
	return models.TicketEscalated
}

func anyStepRan(steps []models.ExecutionStep) bool {
	for _, step := range steps {
		if step.Status != models.StepPending {
			return true
		}
	}
	return false
}

func allPostchecksPassed(steps []models.ExecutionStep) bool {
	for _, step := range steps {
		if step.Phase != models.PhasePostcheck {
			continue
		}
		if step.Status != models.StepSucceeded {
			return false
		}
	}
	return true
}

func anyStepRolledBackCleanly(steps []models.ExecutionStep) bool {
	for _, step := range steps {
		if step.Status == models.StepRolledBack && step.RollbackResult.Succeeded {
			return true
		}
	}
	return false
}
