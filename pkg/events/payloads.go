package events

// SessionStatusPayload is the payload for session.status events, published
// whenever an ExecutionSession transitions between lifecycle states (§3).
type SessionStatusPayload struct {
	Type        string `json:"type"` // always EventTypeSessionStatus
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`                 // new SessionStatus
	PauseReason string `json:"pause_reason,omitempty"` // set only when Status == "paused"
	Timestamp   string `json:"timestamp"`               // RFC3339Nano
}

// StepStatusPayload is the payload for step.status events, published
// whenever one ExecutionStep's status changes (§3).
type StepStatusPayload struct {
	Type      string `json:"type"` // always EventTypeStepStatus
	SessionID string `json:"session_id"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Status    string `json:"status"` // new StepStatus
	ExitCode  int    `json:"exit_code,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StepOutputPayload is the payload for step.output transient events — a
// chunk of stdout/stderr captured while a step is running. Never
// persisted; a disconnected subscriber permanently misses these, by
// design (see package doc).
type StepOutputPayload struct {
	Type      string `json:"type"` // always EventTypeStepOutput
	SessionID string `json:"session_id"`
	StepIndex int    `json:"step_index"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"`
}

// ApprovalRequestedPayload is the payload for approval.requested events,
// published when a step enters waiting_for_approval (§4.6).
type ApprovalRequestedPayload struct {
	Type        string `json:"type"` // always EventTypeApprovalRequested
	SessionID   string `json:"session_id"`
	StepIndex   int    `json:"step_index"`
	SLADeadline string `json:"sla_deadline,omitempty"` // RFC3339Nano
	Timestamp   string `json:"timestamp"`
}

// ApprovalResolvedPayload is the payload for approval.resolved events,
// published when an approval is approved, rejected, or expires (§4.6).
type ApprovalResolvedPayload struct {
	Type       string `json:"type"` // always EventTypeApprovalResolved
	SessionID  string `json:"session_id"`
	StepIndex  int    `json:"step_index"`
	Decision   string `json:"decision"` // "approved", "rejected", "expired"
	ApprovedBy string `json:"approved_by,omitempty"`
	Timestamp  string `json:"timestamp"`
}
