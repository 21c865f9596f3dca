package models

import "time"

// Severity is the normalized severity of an inbound ticket (§6).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid reports whether sev is a recognized severity. The core rejects
// unknown severities at ingestion (§6).
func (sev Severity) IsValid() bool {
	switch sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// TicketStatus is the ticket lifecycle (§3): open → analyzing → in_progress
// → {resolved | escalated | closed}.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketAnalyzing  TicketStatus = "analyzing"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketEscalated  TicketStatus = "escalated"
	TicketClosed     TicketStatus = "closed"
)

// Ticket is the normalized shape the core consumes from ticket ingestion,
// an external collaborator (§1, §6).
type Ticket struct {
	TicketID    string         `json:"ticket_id"`
	Source      string         `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Environment string         `json:"environment,omitempty"`
	Service     string         `json:"service,omitempty"`
	CIHint      string         `json:"ci_hint,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      TicketStatus   `json:"status"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// WebhookEnvelope wraps an inbound ticket webhook with the replay-prevention
// fields required by §6: a signature header, a timestamp, and a nonce.
type WebhookEnvelope struct {
	Ticket    Ticket    `json:"ticket"`
	Signature string    `json:"-"` // from the signature header, never logged
	Timestamp time.Time `json:"-"` // from the timestamp header
	Nonce     string    `json:"-"` // from the nonce field/header
}
