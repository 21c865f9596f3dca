package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionChannelPayloads_ContainSessionID is a contract test between the
// Go backend and the operator UI's WebSocket client.
//
// The UI routes incoming WS events by inspecting `data.session_id` in the
// JSON payload. ANY payload broadcast on a session-specific channel
// (session:{id}) MUST include a non-empty `session_id` field — otherwise
// the UI silently drops it.
//
// This test guards against a new payload struct forgetting the field, or a
// call site forgetting to populate it.
func TestSessionChannelPayloads_ContainSessionID(t *testing.T) {
	const testSessionID = "sess-contract-test"

	tests := []struct {
		name    string
		payload any
	}{
		{
			name: "SessionStatusPayload",
			payload: SessionStatusPayload{
				Type:      EventTypeSessionStatus,
				SessionID: testSessionID,
				Status:    "executing",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "StepStatusPayload",
			payload: StepStatusPayload{
				Type:      EventTypeStepStatus,
				SessionID: testSessionID,
				StepIndex: 0,
				StepName:  "restart",
				Status:    "running",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "StepOutputPayload",
			payload: StepOutputPayload{
				Type:      EventTypeStepOutput,
				SessionID: testSessionID,
				StepIndex: 0,
				Stream:    "stdout",
				Delta:     "hi",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "ApprovalRequestedPayload",
			payload: ApprovalRequestedPayload{
				Type:      EventTypeApprovalRequested,
				SessionID: testSessionID,
				StepIndex: 1,
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "ApprovalResolvedPayload",
			payload: ApprovalResolvedPayload{
				Type:      EventTypeApprovalResolved,
				SessionID: testSessionID,
				StepIndex: 1,
				Decision:  "approved",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err, "failed to marshal %s", tt.name)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal(data, &parsed), "failed to unmarshal %s", tt.name)

			sid, ok := parsed["session_id"]
			assert.True(t, ok,
				"%s JSON is missing \"session_id\" field — UI WS routing will silently drop this event", tt.name)
			assert.Equal(t, testSessionID, sid,
				"%s session_id has wrong value", tt.name)
		})
	}
}

// TestGlobalChannelPayload_ContainsSessionID verifies the session.status
// payload broadcast to GlobalSessionsChannel still carries session_id so the
// dashboard can identify which session it belongs to.
func TestGlobalChannelPayload_ContainsSessionID(t *testing.T) {
	payload := SessionStatusPayload{
		Type:      EventTypeSessionStatus,
		SessionID: "sess-progress",
		Status:    "executing",
		Timestamp: "2026-01-01T00:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	sid, ok := parsed["session_id"]
	assert.True(t, ok, "SessionStatusPayload is missing session_id")
	assert.Equal(t, "sess-progress", sid)
}
