package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
)

// fakeStore is an in-memory database.Store good enough to exercise the
// state machine without Postgres (§10.4).
type fakeStore struct {
	mu sync.Mutex

	sessions    map[string]models.ExecutionSession
	byIdempKey  map[string]string // idempotency key -> session id
	steps       map[string]map[int]models.ExecutionStep
	approvals   map[string]map[int]string // "sessionID" -> stepIndex -> decision
	auditEvents []auditEntry
}

type auditEntry struct {
	TenantID  string
	EventType string
	Payload   any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[string]models.ExecutionSession),
		byIdempKey: make(map[string]string),
		steps:      make(map[string]map[int]models.ExecutionStep),
		approvals:  make(map[string]map[int]string),
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

func (f *fakeStore) CreateTicket(ctx context.Context, ticket models.Ticket) error { return nil }
func (f *fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return models.Ticket{}, nil
}
func (f *fakeStore) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error {
	return nil
}

func (f *fakeStore) CreateSession(ctx context.Context, s models.ExecutionSession) (models.ExecutionSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.IdempotencyKey != "" {
		if existingID, ok := f.byIdempKey[s.IdempotencyKey]; ok {
			return f.sessions[existingID], false, nil
		}
	}
	f.sessions[s.SessionID] = s
	if s.IdempotencyKey != "" {
		f.byIdempKey[s.IdempotencyKey] = s.SessionID
	}
	f.steps[s.SessionID] = make(map[int]models.ExecutionStep)
	return s, true, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (models.ExecutionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return models.ExecutionSession{}, errors.New("session not found")
	}
	return s, nil
}

func (f *fakeStore) UpdateSession(ctx context.Context, s models.ExecutionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.SessionID]; !ok {
		return errors.New("session not found")
	}
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeStore) ListSessionsByStatus(ctx context.Context, tenantID string, status models.SessionStatus) ([]models.ExecutionSession, error) {
	return nil, nil
}

func (f *fakeStore) UpsertStep(ctx context.Context, step models.ExecutionStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.steps[step.SessionID]
	if !ok {
		m = make(map[int]models.ExecutionStep)
		f.steps[step.SessionID] = m
	}
	m[step.StepIndex] = step
	return nil
}

func (f *fakeStore) GetStep(ctx context.Context, sessionID string, stepIndex int) (models.ExecutionStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.steps[sessionID]
	if !ok {
		return models.ExecutionStep{}, errors.New("step not found")
	}
	step, ok := m[stepIndex]
	if !ok {
		return models.ExecutionStep{}, errors.New("step not found")
	}
	return step, nil
}

func (f *fakeStore) ListSteps(ctx context.Context, sessionID string) ([]models.ExecutionStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.steps[sessionID]
	out := make([]models.ExecutionStep, 0, len(m))
	for i := 0; i < len(m); i++ {
		if step, ok := m[i]; ok {
			out = append(out, step)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertWorker(ctx context.Context, worker models.AgentWorker) error { return nil }
func (f *fakeStore) GetWorker(ctx context.Context, workerID string) (models.AgentWorker, error) {
	return models.AgentWorker{}, nil
}
func (f *fakeStore) ListWorkersByState(ctx context.Context, tenantID string, state models.WorkerState) ([]models.AgentWorker, error) {
	return nil, nil
}

func (f *fakeStore) CreateApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision, approverRole string, slaDeadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.approvals[sessionID]
	if !ok {
		m = make(map[int]string)
		f.approvals[sessionID] = m
	}
	if _, exists := m[stepIndex]; exists {
		return nil
	}
	m[stepIndex] = decision
	return nil
}

func (f *fakeStore) ResolveApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision string, approvedByAdmin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.approvals[sessionID]
	if !ok {
		m = make(map[int]string)
		f.approvals[sessionID] = m
	}
	m[stepIndex] = decision
	return nil
}

func (f *fakeStore) AppendAuditEntry(ctx context.Context, tenantID, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditEvents = append(f.auditEvents, auditEntry{TenantID: tenantID, EventType: eventType, Payload: payload})
	return nil
}

func (f *fakeStore) ListConnections(ctx context.Context, tenantID string) ([]models.InfrastructureConnection, error) {
	return nil, nil
}

// fakePublisher records every published event without touching the wire.
type fakePublisher struct {
	mu                sync.Mutex
	sessionStatuses   []events.SessionStatusPayload
	stepStatuses      []events.StepStatusPayload
	approvalRequested []events.ApprovalRequestedPayload
	approvalResolved  []events.ApprovalResolvedPayload
}

func newFakePublisher() *fakePublisher { return &fakePublisher{} }

func (p *fakePublisher) PublishSessionStatus(ctx context.Context, sessionID string, payload events.SessionStatusPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionStatuses = append(p.sessionStatuses, payload)
	return nil
}

func (p *fakePublisher) PublishStepStatus(ctx context.Context, sessionID string, payload events.StepStatusPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepStatuses = append(p.stepStatuses, payload)
	return nil
}

func (p *fakePublisher) PublishApprovalRequested(ctx context.Context, sessionID string, payload events.ApprovalRequestedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approvalRequested = append(p.approvalRequested, payload)
	return nil
}

func (p *fakePublisher) PublishApprovalResolved(ctx context.Context, sessionID string, payload events.ApprovalResolvedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approvalResolved = append(p.approvalResolved, payload)
	return nil
}

func (p *fakePublisher) lastSessionStatus() events.SessionStatusPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionStatuses[len(p.sessionStatuses)-1]
}

// fakeQueue records every enqueued command instead of talking to Redis.
type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.CommandMessage
}

func newFakeQueue() *fakeQueue { return &fakeQueue{} }

func (q *fakeQueue) Enqueue(ctx context.Context, msg queue.CommandMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *fakeQueue) last() queue.CommandMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages[len(q.messages)-1]
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// fakeResolver always resolves to a fixed connection.
type fakeResolver struct {
	conn models.InfrastructureConnection
	err  error
}

func (r fakeResolver) Resolve(ctx context.Context, tenantID string, ticket models.Ticket) (models.InfrastructureConnection, error) {
	return r.conn, r.err
}

func testConnection() models.InfrastructureConnection {
	return models.InfrastructureConnection{
		Name:      "test-host",
		TenantID:  "tenant-1",
		Connector: models.ConnectorSSH,
		Credential: models.CredentialReference{ID: "cred-1", Kind: "ssh_key"},
	}
}

func testTicket() models.Ticket {
	return models.Ticket{
		TicketID: "TCK-1",
		Source:   "test",
		Severity: models.SeverityHigh,
	}
}

func commandStep(name string, radius models.BlastRadius, requiresApproval *bool) models.RunbookStep {
	return models.RunbookStep{
		Name: name,
		Kind: models.StepKindCommand,
		Command: models.CommandStep{
			Command:         "restart {service}",
			RollbackCommand: "rollback {service}",
		},
		RequiresApproval: requiresApproval,
	}
}

func boolPtr(b bool) *bool { return &b }

func testRunbook(radius models.BlastRadius, steps ...models.RunbookStep) models.RunbookSpec {
	return models.RunbookSpec{
		RunbookID:   "rb-1",
		Version:     "1.0.0",
		Service:     "checkout",
		Environment: "staging",
		BlastRadius: radius,
		Approval:    models.RunbookApproved,
		Steps:       steps,
	}
}

type harness struct {
	store     *fakeStore
	publisher *fakePublisher
	queue     *fakeQueue
	machine   *Machine
}

func newHarness(resolver ConnectionResolver) *harness {
	store := newFakeStore()
	publisher := newFakePublisher()
	q := newFakeQueue()
	m := NewMachine(store, publisher, q, resolver, testSystemConfig())
	return &harness{store: store, publisher: publisher, queue: q, machine: m}
}

func testSystemConfig() config.SystemConfig {
	return config.SystemConfig{}
}

func TestCreateSession_AutoExecuteHappyPath(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("restart service", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
		Inputs:   map[string]string{"service": "checkout"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)

	steps, err := h.store.ListSteps(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "restart checkout", steps[0].Command)
	assert.Equal(t, models.ConnectorSSH, steps[0].Connector)
	assert.Equal(t, models.StepPending, steps[0].Status)

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	require.Equal(t, 1, h.queue.count())
	msg := h.queue.last()
	assert.Equal(t, sess.SessionID, msg.SessionID)
	var payload queue.SessionCommandPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "restart checkout", payload.Command)
	assert.False(t, payload.IsRollback)

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepRunning, step.Status)

	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success:        true,
		ExitCode:       0,
		IdempotencyKey: step.IdempotencyKey,
	}))

	finalSession, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, finalSession.Status)
	assert.NotNil(t, finalSession.CompletedAt)
}

func TestCreateSession_DestructiveForcesPerStep(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusDestructive, commandStep("drop db", models.BlastRadiusDestructive, nil))
	_, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationCriticalOnly,
	})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestCreateSession_RejectsUnapprovedRunbook(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("restart", models.BlastRadiusLow, boolPtr(false)))
	runbook.Approval = models.RunbookDraft
	_, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestCreateSession_IdempotencyKeyCollisionReturnsExisting(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("restart", models.BlastRadiusLow, boolPtr(false)))
	req := CreateSessionRequest{
		TenantID:       "tenant-1",
		Ticket:         testTicket(),
		Runbook:        runbook,
		Mode:           models.ValidationPerStep,
		IdempotencyKey: "webhook-123",
	}

	first, err := h.machine.CreateSession(ctx, req)
	require.NoError(t, err)

	second, err := h.machine.CreateSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	assert.Len(t, h.store.sessions, 1)
}

func TestCreateSession_ZeroStepRunbookCompletesImmediately(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow)
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
}

func TestAdvance_ApprovalGateThenApprove(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusMedium, commandStep("restart prod", models.BlastRadiusMedium, boolPtr(true)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingApproval, step.Status)
	assert.Equal(t, 0, h.queue.count())

	waiting, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaitingForApproval, waiting.Status)
	assert.True(t, waiting.WaitingForApproval)

	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionApproved, false, "", "looks fine"))

	step, err = h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", step.ApprovedBy)

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	assert.Equal(t, 1, h.queue.count())
}

func TestApproveStep_IdempotentRepeatIsNoOp(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusMedium, commandStep("restart prod", models.BlastRadiusMedium, boolPtr(true)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionApproved, false, "", ""))
	// repeat with same decision after the step moved past awaiting_approval
	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionApproved, false, "", ""))
}

func TestApproveStep_RejectedTriggersPause(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusMedium, commandStep("restart prod", models.BlastRadiusMedium, boolPtr(true)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionRejected, false, "", "too risky"))

	paused, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, paused.Status)
	assert.Equal(t, models.PauseReasonApprovalRejected, paused.PauseReason)

	// idempotent repeat of the same rejection is a no-op
	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionRejected, false, "", "too risky"))
}

func TestApproveStep_AfterExpiryReturnsApprovalExpired(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusMedium, commandStep("restart prod", models.BlastRadiusMedium, boolPtr(true)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	require.NoError(t, h.machine.ExpireApproval(ctx, sess.SessionID, 0))

	err = h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionApproved, false, "", "")
	require.Error(t, err)
	assert.Equal(t, orcherr.KindApprovalExpired, orcherr.KindOf(err))
}

func TestExpireApproval_IdempotentAfterResolution(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusMedium, commandStep("restart prod", models.BlastRadiusMedium, boolPtr(true)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	require.NoError(t, h.machine.ApproveStep(ctx, sess.SessionID, 0, "alice", DecisionApproved, false, "", ""))

	// expiring an already-resolved approval is a no-op, not an error
	require.NoError(t, h.machine.ExpireApproval(ctx, sess.SessionID, 0))

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepApproved, step.Status)
}

func TestRecordStepResult_FailureTriggersRollbackOfPriorStep(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow,
		commandStep("step one", models.BlastRadiusLow, boolPtr(false)),
		commandStep("step two", models.BlastRadiusLow, boolPtr(false)),
	)
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
		Inputs:   map[string]string{"service": "checkout"},
	})
	require.NoError(t, err)

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	step0, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step0.IdempotencyKey,
	}))

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	step1, err := h.store.GetStep(ctx, sess.SessionID, 1)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 1, "worker-1", StepResult{
		Success: false, ErrorKind: "connector_permanent", ErrorMessage: "boom", IdempotencyKey: step1.IdempotencyKey,
	}))

	rollingBack, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRollback, rollingBack.Status)

	// the rollback candidate is step 0, the only succeeded step with a rollback command
	require.Equal(t, 2, h.queue.count())
	msg := h.queue.last()
	var payload queue.SessionCommandPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.True(t, payload.IsRollback)
	assert.Equal(t, "rollback checkout", payload.Command)

	updatedStep0, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.True(t, updatedStep0.RollbackResult.Attempted)

	require.NoError(t, h.machine.RecordRollbackResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, Stdout: "rolled back",
	}))

	// RecordRollbackResult must never mutate the forward step status
	finalStep0, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepSucceeded, finalStep0.Status)
	assert.True(t, finalStep0.RollbackResult.Succeeded)

	finalSession, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, finalSession.Status)
}

func TestRecordStepResult_DuplicateDeliveryIsNoOp(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)

	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step.IdempotencyKey,
	}))
	// duplicate delivery of the same terminal result is a no-op, not a protocol error
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step.IdempotencyKey,
	}))
}

func TestRecordStepResult_MismatchedIdempotencyKeyIsProtocolError(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step.IdempotencyKey,
	}))

	err = h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: "some-other-key",
	})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))

	paused, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, paused.Status)
	assert.Equal(t, models.PauseReasonProtocolError, paused.PauseReason)
}

func TestRecordStepResult_NonAssignedWorkerIsProtocolError(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	loaded, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	loaded.AssignedWorkerID = "worker-1"
	require.NoError(t, h.store.UpdateSession(ctx, loaded))

	err = h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-2", StepResult{Success: true})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestRecordStepResult_NotRunningIsProtocolError(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	// step is still pending, never dispatched

	err = h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{Success: true})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestRecordRollbackResult_WhileNotInRollbackIsProtocolError(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))

	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step.IdempotencyKey,
	}))

	// session completed normally, never entered rollback
	err = h.machine.RecordRollbackResult(ctx, sess.SessionID, 0, "worker-1", StepResult{Success: true})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestCancel_TriggersRollbackOfSucceededSteps(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow,
		commandStep("step one", models.BlastRadiusLow, boolPtr(false)),
		commandStep("step two", models.BlastRadiusLow, boolPtr(false)),
	)
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
		Inputs:   map[string]string{"service": "checkout"},
	})
	require.NoError(t, err)

	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	step0, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step0.IdempotencyKey,
	}))

	require.NoError(t, h.machine.Cancel(ctx, sess.SessionID, "operator requested stop"))

	cancelling, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRollback, cancelling.Status)

	require.NoError(t, h.machine.RecordRollbackResult(ctx, sess.SessionID, 0, "worker-1", StepResult{Success: true}))

	final, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, final.Status)

	assert.Len(t, h.store.auditEvents, 1)
	assert.Equal(t, "session.cancelled", h.store.auditEvents[0].EventType)
}

func TestCancel_TerminalSessionIsNoOp(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})
	ctx := context.Background()

	runbook := testRunbook(models.BlastRadiusLow, commandStep("step one", models.BlastRadiusLow, boolPtr(false)))
	sess, err := h.machine.CreateSession(ctx, CreateSessionRequest{
		TenantID: "tenant-1",
		Ticket:   testTicket(),
		Runbook:  runbook,
		Mode:     models.ValidationPerStep,
	})
	require.NoError(t, err)
	require.NoError(t, h.machine.Advance(ctx, sess.SessionID))
	step, err := h.store.GetStep(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.NoError(t, h.machine.RecordStepResult(ctx, sess.SessionID, 0, "worker-1", StepResult{
		Success: true, IdempotencyKey: step.IdempotencyKey,
	}))

	require.NoError(t, h.machine.Cancel(ctx, sess.SessionID, "too late"))

	final, err := h.store.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status) // unchanged, cancel on terminal session is a no-op
}

func TestNeedsApprovalGate_PerPhaseGatesOnlyFirstInPhase(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})

	allSteps := []models.ExecutionStep{
		{StepIndex: 0, Phase: models.PhaseMain, RequiresApproval: true},
		{StepIndex: 1, Phase: models.PhaseMain, RequiresApproval: true},
	}
	sess := models.ExecutionSession{ValidationMode: models.ValidationPerPhase}

	assert.True(t, h.machine.needsApprovalGate(sess, allSteps[0], allSteps))
	assert.False(t, h.machine.needsApprovalGate(sess, allSteps[1], allSteps))
}

func TestNeedsApprovalGate_CriticalOnlyGatesMainPhaseOnly(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})

	allSteps := []models.ExecutionStep{
		{StepIndex: 0, Phase: models.PhasePrecheck, RequiresApproval: true},
		{StepIndex: 1, Phase: models.PhaseMain, RequiresApproval: true},
	}
	sess := models.ExecutionSession{ValidationMode: models.ValidationCriticalOnly}

	assert.False(t, h.machine.needsApprovalGate(sess, allSteps[0], allSteps))
	assert.True(t, h.machine.needsApprovalGate(sess, allSteps[1], allSteps))
}

func TestNeedsApprovalGate_FinalOnlyGatesLastStepOnly(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})

	allSteps := []models.ExecutionStep{
		{StepIndex: 0, Phase: models.PhaseMain, RequiresApproval: true},
		{StepIndex: 1, Phase: models.PhasePostcheck, RequiresApproval: true},
	}
	sess := models.ExecutionSession{ValidationMode: models.ValidationFinalOnly}

	assert.False(t, h.machine.needsApprovalGate(sess, allSteps[0], allSteps))
	assert.True(t, h.machine.needsApprovalGate(sess, allSteps[1], allSteps))
}

func TestNeedsApprovalGate_StepNotRequiringApprovalNeverGates(t *testing.T) {
	h := newHarness(fakeResolver{conn: testConnection()})

	allSteps := []models.ExecutionStep{
		{StepIndex: 0, Phase: models.PhaseMain, RequiresApproval: false},
	}
	sess := models.ExecutionSession{ValidationMode: models.ValidationPerStep}

	assert.False(t, h.machine.needsApprovalGate(sess, allSteps[0], allSteps))
}
