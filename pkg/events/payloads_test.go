package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusPayload(t *testing.T) {
	t.Run("creates session status payload", func(t *testing.T) {
		payload := SessionStatusPayload{
			Type:      EventTypeSessionStatus,
			SessionID: "session-123",
			Status:    "executing",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeSessionStatus, payload.Type)
		assert.Equal(t, "session-123", payload.SessionID)
		assert.Equal(t, "executing", payload.Status)
		assert.NotEmpty(t, payload.Timestamp)
	})

	t.Run("supports all session statuses", func(t *testing.T) {
		statuses := []string{
			"queued", "executing", "waiting_for_approval", "paused",
			"completed", "failed", "cancelled",
		}

		for _, status := range statuses {
			payload := SessionStatusPayload{
				Type:      EventTypeSessionStatus,
				SessionID: "session-456",
				Status:    status,
				Timestamp: time.Now().Format(time.RFC3339Nano),
			}
			assert.Equal(t, status, payload.Status)
		}
	})

	t.Run("pause reason is set only when paused", func(t *testing.T) {
		payload := SessionStatusPayload{
			Type:        EventTypeSessionStatus,
			SessionID:   "session-paused",
			Status:      "paused",
			PauseReason: "precheck_failed",
			Timestamp:   time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, "paused", payload.Status)
		assert.Equal(t, "precheck_failed", payload.PauseReason)
	})

	t.Run("pause reason empty for non-paused statuses", func(t *testing.T) {
		payload := SessionStatusPayload{
			Type:      EventTypeSessionStatus,
			SessionID: "session-running",
			Status:    "executing",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Empty(t, payload.PauseReason)
	})
}

func TestStepStatusPayload(t *testing.T) {
	t.Run("creates step status payload with all fields", func(t *testing.T) {
		payload := StepStatusPayload{
			Type:      EventTypeStepStatus,
			SessionID: "session-123",
			StepIndex: 2,
			StepName:  "restart-service",
			Status:    "succeeded",
			ExitCode:  0,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeStepStatus, payload.Type)
		assert.Equal(t, "session-123", payload.SessionID)
		assert.Equal(t, 2, payload.StepIndex)
		assert.Equal(t, "restart-service", payload.StepName)
		assert.Equal(t, "succeeded", payload.Status)
		assert.Equal(t, 0, payload.ExitCode)
		assert.NotEmpty(t, payload.Timestamp)
	})

	t.Run("failed step carries non-zero exit code and error kind", func(t *testing.T) {
		payload := StepStatusPayload{
			Type:      EventTypeStepStatus,
			SessionID: "session-456",
			StepIndex: 0,
			StepName:  "check-disk",
			Status:    "failed",
			ExitCode:  1,
			ErrorKind: "connector_transient",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, "failed", payload.Status)
		assert.Equal(t, 1, payload.ExitCode)
		assert.Equal(t, "connector_transient", payload.ErrorKind)
	})

	t.Run("step index is 0-based", func(t *testing.T) {
		first := StepStatusPayload{Type: EventTypeStepStatus, SessionID: "s", StepIndex: 0}
		second := StepStatusPayload{Type: EventTypeStepStatus, SessionID: "s", StepIndex: 1}
		assert.Equal(t, 0, first.StepIndex)
		assert.Equal(t, 1, second.StepIndex)
	})
}

func TestStepOutputPayload(t *testing.T) {
	t.Run("creates step output payload", func(t *testing.T) {
		payload := StepOutputPayload{
			Type:      EventTypeStepOutput,
			SessionID: "session-123",
			StepIndex: 0,
			Stream:    "stdout",
			Delta:     "Restarting service...\n",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeStepOutput, payload.Type)
		assert.Equal(t, "stdout", payload.Stream)
		assert.Equal(t, "Restarting service...\n", payload.Delta)
	})

	t.Run("supports stderr stream", func(t *testing.T) {
		payload := StepOutputPayload{
			Type:      EventTypeStepOutput,
			SessionID: "session-123",
			StepIndex: 0,
			Stream:    "stderr",
			Delta:     "warning: deprecated flag\n",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, "stderr", payload.Stream)
	})

	t.Run("delta contains incremental content only", func(t *testing.T) {
		chunks := []string{"The ", "service ", "restarted ", "cleanly."}

		var payloads []StepOutputPayload
		for _, delta := range chunks {
			payloads = append(payloads, StepOutputPayload{
				Type: EventTypeStepOutput, SessionID: "session-456", StepIndex: 0,
				Stream: "stdout", Delta: delta, Timestamp: time.Now().Format(time.RFC3339Nano),
			})
		}

		assert.Len(t, payloads, 4)
		assert.Equal(t, "The ", payloads[0].Delta)
		assert.Equal(t, "cleanly.", payloads[3].Delta)
	})

	t.Run("handles empty delta", func(t *testing.T) {
		payload := StepOutputPayload{
			Type: EventTypeStepOutput, SessionID: "session-789", StepIndex: 0,
			Stream: "stdout", Delta: "", Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Empty(t, payload.Delta)
	})
}

func TestApprovalRequestedPayload(t *testing.T) {
	t.Run("creates approval requested payload", func(t *testing.T) {
		deadline := time.Now().Add(time.Hour).Format(time.RFC3339Nano)
		payload := ApprovalRequestedPayload{
			Type:        EventTypeApprovalRequested,
			SessionID:   "session-123",
			StepIndex:   3,
			SLADeadline: deadline,
			Timestamp:   time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeApprovalRequested, payload.Type)
		assert.Equal(t, "session-123", payload.SessionID)
		assert.Equal(t, 3, payload.StepIndex)
		assert.Equal(t, deadline, payload.SLADeadline)
	})

	t.Run("sla deadline optional", func(t *testing.T) {
		payload := ApprovalRequestedPayload{
			Type: EventTypeApprovalRequested, SessionID: "session-456", StepIndex: 0,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Empty(t, payload.SLADeadline)
	})
}

func TestApprovalResolvedPayload(t *testing.T) {
	t.Run("creates approval resolved payload for each decision", func(t *testing.T) {
		decisions := []string{"approved", "rejected", "expired"}

		for _, decision := range decisions {
			payload := ApprovalResolvedPayload{
				Type: EventTypeApprovalResolved, SessionID: "session-123", StepIndex: 1,
				Decision: decision, Timestamp: time.Now().Format(time.RFC3339Nano),
			}
			assert.Equal(t, decision, payload.Decision)
		}
	})

	t.Run("approved_by set for human decisions", func(t *testing.T) {
		payload := ApprovalResolvedPayload{
			Type: EventTypeApprovalResolved, SessionID: "session-456", StepIndex: 0,
			Decision: "approved", ApprovedBy: "sre-lead", Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Equal(t, "sre-lead", payload.ApprovedBy)
	})

	t.Run("approved_by empty for expiry", func(t *testing.T) {
		payload := ApprovalResolvedPayload{
			Type: EventTypeApprovalResolved, SessionID: "session-789", StepIndex: 0,
			Decision: "expired", Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Empty(t, payload.ApprovedBy)
	})
}

func TestPayloadTypes(t *testing.T) {
	t.Run("all payload types have correct type field", func(t *testing.T) {
		sessionStatus := SessionStatusPayload{Type: EventTypeSessionStatus, SessionID: "s1", Status: "executing"}
		assert.Equal(t, EventTypeSessionStatus, sessionStatus.Type)

		stepStatus := StepStatusPayload{Type: EventTypeStepStatus, SessionID: "s1", StepIndex: 0, Status: "running"}
		assert.Equal(t, EventTypeStepStatus, stepStatus.Type)

		stepOutput := StepOutputPayload{Type: EventTypeStepOutput, SessionID: "s1", StepIndex: 0, Stream: "stdout"}
		assert.Equal(t, EventTypeStepOutput, stepOutput.Type)

		approvalRequested := ApprovalRequestedPayload{Type: EventTypeApprovalRequested, SessionID: "s1", StepIndex: 0}
		assert.Equal(t, EventTypeApprovalRequested, approvalRequested.Type)

		approvalResolved := ApprovalResolvedPayload{Type: EventTypeApprovalResolved, SessionID: "s1", StepIndex: 0, Decision: "approved"}
		assert.Equal(t, EventTypeApprovalResolved, approvalResolved.Type)
	})
}
