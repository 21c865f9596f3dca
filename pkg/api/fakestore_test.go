package api

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// fakeStore is an in-memory database.Store good enough to exercise the
// handlers without Postgres.
type fakeStore struct {
	mu sync.Mutex

	tickets map[string]models.Ticket
	workers map[string]models.AgentWorker
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets: make(map[string]models.Ticket),
		workers: make(map[string]models.AgentWorker),
	}
}

func (f *fakeStore) CreateRunbook(ctx context.Context, spec models.RunbookSpec) error { return nil }
func (f *fakeStore) GetRunbook(ctx context.Context, ref models.RunbookRef) (models.RunbookSpec, error) {
	return models.RunbookSpec{}, nil
}
func (f *fakeStore) ListApprovedRunbooks(ctx context.Context) ([]models.RunbookSpec, error) {
	return nil, nil
}
func (f *fakeStore) RecordRunbookOutcome(ctx context.Context, ref models.RunbookRef, succeeded bool) error {
	return nil
}

func (f *fakeStore) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[ticket.TicketID] = ticket
	return nil
}

func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return models.Ticket{}, database.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error {
	return nil
}

func (f *fakeStore) CreateSession(ctx context.Context, s models.ExecutionSession) (models.ExecutionSession, bool, error) {
	return s, true, nil
}
func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (models.ExecutionSession, error) {
	return models.ExecutionSession{}, database.ErrNotFound
}
func (f *fakeStore) UpdateSession(ctx context.Context, s models.ExecutionSession) error { return nil }
func (f *fakeStore) ListSessionsByStatus(ctx context.Context, tenantID string, status models.SessionStatus) ([]models.ExecutionSession, error) {
	return nil, nil
}

func (f *fakeStore) UpsertStep(ctx context.Context, step models.ExecutionStep) error { return nil }
func (f *fakeStore) GetStep(ctx context.Context, sessionID string, stepIndex int) (models.ExecutionStep, error) {
	return models.ExecutionStep{}, database.ErrNotFound
}
func (f *fakeStore) ListSteps(ctx context.Context, sessionID string) ([]models.ExecutionStep, error) {
	return nil, nil
}

func (f *fakeStore) UpsertWorker(ctx context.Context, worker models.AgentWorker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[worker.WorkerID] = worker
	return nil
}

func (f *fakeStore) GetWorker(ctx context.Context, workerID string) (models.AgentWorker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return models.AgentWorker{}, database.ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) ListWorkersByState(ctx context.Context, tenantID string, state models.WorkerState) ([]models.AgentWorker, error) {
	return nil, nil
}

func (f *fakeStore) CreateApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision, approverRole string, slaDeadline time.Time) error {
	return nil
}
func (f *fakeStore) ResolveApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision string, approvedByAdmin bool) error {
	return nil
}
func (f *fakeStore) ListOverdueApprovals(ctx context.Context, before time.Time) ([]models.PendingApproval, error) {
	return nil, nil
}
func (f *fakeStore) AppendAuditEntry(ctx context.Context, tenantID, eventType string, payload any) error {
	return nil
}
func (f *fakeStore) ListConnections(ctx context.Context, tenantID string) ([]models.InfrastructureConnection, error) {
	return nil, nil
}
