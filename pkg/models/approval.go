package models

import "time"

// PendingApproval is one row of an unresolved approval_requests entry, as
// returned by a store scan for the Approval Gate's SLA sweep (§4.7).
type PendingApproval struct {
	SessionID   string
	StepIndex   int
	Decision    string
	SLADeadline time.Time
}

// Overdue reports whether this approval's SLA deadline has passed as of now.
func (p PendingApproval) Overdue(now time.Time) bool {
	return !p.SLADeadline.IsZero() && now.After(p.SLADeadline)
}
