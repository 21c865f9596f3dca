package api

import "github.com/codeready-toolchain/orchestrator/pkg/models"

// CreateExecutionResponse is returned by POST /executions.
type CreateExecutionResponse struct {
	SessionID string `json:"session_id"`
	Created   bool   `json:"created"`
}

// CancelResponse is returned by POST /executions/{id}/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ExecutionSnapshot is returned by GET /executions/{id} — the session plus
// its steps, the shape an operator or the control CLI needs in one call.
type ExecutionSnapshot struct {
	Session models.ExecutionSession `json:"session"`
	Steps   []models.ExecutionStep  `json:"steps"`
}

// EventsReplayResponse is returned by GET /executions/{id}/events?since=.
type EventsReplayResponse struct {
	Events  []EventEnvelope `json:"events"`
	HasMore bool            `json:"has_more"`
}

// EventEnvelope is one replayed event: its position plus its raw payload.
type EventEnvelope struct {
	Seq     int            `json:"seq"`
	Payload map[string]any `json:"payload"`
}

// RegisterWorkerResponse is returned by POST /workers/register.
type RegisterWorkerResponse struct {
	WorkerID   string `json:"worker_id"`
	CertSerial string `json:"cert_serial"`
}

// TicketWebhookResponse is returned by the ticket ingestion webhook.
type TicketWebhookResponse struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
