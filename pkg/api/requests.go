package api

// CreateExecutionRequest is the HTTP request body for POST /executions (§6).
type CreateExecutionRequest struct {
	TicketID    string            `json:"ticket_id"`
	RunbookID   string            `json:"runbook_id,omitempty"`
	Version     string            `json:"version,omitempty"`
	Mode        string            `json:"mode"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	Idempotency string            `json:"idempotency_key,omitempty"`
}

// ApproveStepRequest is the HTTP request body for POST /executions/{id}/approve (§6).
type ApproveStepRequest struct {
	StepIndex int    `json:"step_index"`
	Decision  string `json:"decision"` // "approved" | "rejected"
	Notes     string `json:"notes,omitempty"`
	AsAdmin   bool   `json:"as_admin,omitempty"`
	Role      string `json:"role,omitempty"`
}

// CancelExecutionRequest is the HTTP request body for POST /executions/{id}/cancel (§6).
type CancelExecutionRequest struct {
	Reason string `json:"reason"`
}

// RegisterWorkerRequest is the HTTP request body for POST /workers/register (§6).
type RegisterWorkerRequest struct {
	Capabilities   []string `json:"capabilities"`
	NetworkSegment string   `json:"network_segment"`
	TenantScope    []string `json:"tenant_scope,omitempty"`
	MaxLoad        int      `json:"max_load,omitempty"`
}

// WorkerHeartbeatRequest is the HTTP request body for POST /workers/{id}/heartbeat (§6).
type WorkerHeartbeatRequest struct {
	Load int `json:"load"`
}

// TicketStatusCallbackRequest is the HTTP request body for POST
// /tickets/{id}/status, the internal callback the Ticket Outcome Adapter
// calls into (§4.9, §6).
type TicketStatusCallbackRequest struct {
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
}

// TicketWebhookRequest is the inbound shape a ticketing system posts to
// ingest a new ticket (§6: "Ticket ingestion input").
type TicketWebhookRequest struct {
	Source      string         `json:"source"`
	ID          string         `json:"id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Environment string         `json:"environment,omitempty"`
	Service     string         `json:"service,omitempty"`
	CIHint      string         `json:"ci_hint,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
