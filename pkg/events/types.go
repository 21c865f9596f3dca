// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-replica distribution (§4.8).
//
// ════════════════════════════════════════════════════════════════
// Session Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// Every state-affecting session transition emits exactly one persistent
// event, appended with a monotonically increasing per-session sequence
// number. Operators subscribed to a session channel receive events as
// they are appended; a client that reconnects after a gap replays from
// `since_seq` via the catchup path rather than losing events (§4.8).
//
//	session.status    — ExecutionSession.Status changed
//	step.status       — one ExecutionStep's Status changed
//	step.output       — transient stdout/stderr chunk while a step runs,
//	                    NOT persisted — a disconnected client misses
//	                    chunks but the step's final output is still
//	                    delivered via the next step.status event
//	approval.requested — a step entered waiting_for_approval
//	approval.resolved  — an approval was approved, rejected, or expired
//
// ════════════════════════════════════════════════════════════════
package events

// Persistent event types (stored in the audit-adjacent event log + NOTIFY).
const (
	EventTypeSessionStatus    = "session.status"
	EventTypeStepStatus       = "step.status"
	EventTypeApprovalRequested = "approval.requested"
	EventTypeApprovalResolved  = "approval.resolved"
)

// Transient event types (NOTIFY only, never persisted — a disconnected
// subscriber loses these permanently, by design; see package doc).
const (
	EventTypeStepOutput = "step.output"
)

// GlobalSessionsChannel is the channel for session-level status events
// across an entire tenant. An operator dashboard's session list
// subscribes here for real-time status updates without subscribing to
// every individual session.
const GlobalSessionsChannel = "sessions"

// SessionChannel returns the channel name for one session's events.
// Format: "session:{session_id}".
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket
// messages (§6).
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`        // e.g. "session:abc-123"
	LastEventID *int   `json:"last_event_id,omitempty"` // for catchup, the last seq the client saw
}
