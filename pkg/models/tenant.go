// Package models contains the data shapes shared across the orchestration
// core: tenants, runbooks, tickets, sessions, steps, workers and events.
//
// Nothing in this package back-references a parent by pointer (e.g. a step
// never holds a pointer to its session). Relationships are expressed as ids
// plus an index, and callers that need both pass both — this keeps the
// object graph a tree of values instead of a web of pointers that could be
// mutated from anywhere.
package models

import "time"

// Tenant is the unit of isolation. Every other aggregate carries a TenantID,
// and every storage query is predicated on it (see pkg/database).
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// MaxConcurrentSessions bounds how many non-terminal sessions this
	// tenant may have in flight at once (0 means use the system default).
	MaxConcurrentSessions int `json:"max_concurrent_sessions,omitempty"`
}
