package models

import "time"

// WorkerState is the AgentWorker lifecycle (§3).
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerAssigned  WorkerState = "assigned"
	WorkerExecuting WorkerState = "executing"
	WorkerDraining  WorkerState = "draining"
	WorkerOffline   WorkerState = "offline"
	WorkerErrored   WorkerState = "errored"
)

// AgentWorker is a registered execution node that claims and executes steps
// (§3). A worker that misses heartbeats beyond HeartbeatTimeout transitions
// to WorkerOffline.
type AgentWorker struct {
	WorkerID        string        `json:"worker_id"`
	TenantScope     []string      `json:"tenant_scope"`
	NetworkSegment  string        `json:"network_segment"`
	CapabilitySet   []ConnectorKind `json:"capability_set"`
	CurrentLoad     int           `json:"current_load"`
	MaxLoad         int           `json:"max_load"`
	LastHeartbeatAt time.Time     `json:"last_heartbeat_at"`
	State           WorkerState   `json:"state"`
	CertSerial      string        `json:"cert_serial,omitempty"`
	RegisteredAt    time.Time     `json:"registered_at"`
}

// CanServe reports whether this worker may be assigned a step for the given
// tenant and connector kind, with spare capacity.
func (w AgentWorker) CanServe(tenantID string, kind ConnectorKind) bool {
	if w.State != WorkerIdle && w.State != WorkerAssigned && w.State != WorkerExecuting {
		return false
	}
	if w.CurrentLoad >= w.MaxLoad {
		return false
	}
	scoped := false
	for _, t := range w.TenantScope {
		if t == tenantID {
			scoped = true
			break
		}
	}
	if !scoped {
		return false
	}
	for _, c := range w.CapabilitySet {
		if c == kind {
			return true
		}
	}
	return false
}

// IsHeartbeatStale reports whether the worker has missed its heartbeat
// deadline as of now, given the configured timeout (§3 default 45s).
func (w AgentWorker) IsHeartbeatStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeatAt) > timeout
}
