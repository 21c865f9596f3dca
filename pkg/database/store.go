package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// ErrNotFound is returned by Store lookups that find no row.
var ErrNotFound = errors.New("database: not found")

// Store is the tenant-scoped storage boundary the rest of the core reads
// and writes through. No stored type holds a back-pointer to another
// (an ExecutionStep never embeds its ExecutionSession, a RunbookSpec never
// embeds its approval history) — callers needing both fetch both.
type Store interface {
	CreateRunbook(ctx context.Context, spec models.RunbookSpec) error
	GetRunbook(ctx context.Context, ref models.RunbookRef) (models.RunbookSpec, error)
	ListApprovedRunbooks(ctx context.Context) ([]models.RunbookSpec, error)
	RecordRunbookOutcome(ctx context.Context, ref models.RunbookRef, succeeded bool) error

	CreateTicket(ctx context.Context, ticket models.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error

	// CreateSession inserts a new session scoped to tenantID. If a session
	// already exists for (tenantID, session.IdempotencyKey), the existing
	// session is returned unchanged and created is false — callers must
	// treat this as "already submitted", not as an error (§3 idempotency).
	CreateSession(ctx context.Context, session models.ExecutionSession) (result models.ExecutionSession, created bool, err error)
	GetSession(ctx context.Context, sessionID string) (models.ExecutionSession, error)
	UpdateSession(ctx context.Context, session models.ExecutionSession) error
	ListSessionsByStatus(ctx context.Context, tenantID string, status models.SessionStatus) ([]models.ExecutionSession, error)

	UpsertStep(ctx context.Context, step models.ExecutionStep) error
	GetStep(ctx context.Context, sessionID string, stepIndex int) (models.ExecutionStep, error)
	ListSteps(ctx context.Context, sessionID string) ([]models.ExecutionStep, error)

	UpsertWorker(ctx context.Context, worker models.AgentWorker) error
	GetWorker(ctx context.Context, workerID string) (models.AgentWorker, error)
	ListWorkersByState(ctx context.Context, tenantID string, state models.WorkerState) ([]models.AgentWorker, error)

	// CreateApprovalRequest inserts a pending approval, keyed idempotently
	// by (sessionID, stepIndex, decision) — a duplicate insert is a no-op,
	// not an error (§4.6).
	CreateApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision, approverRole string, slaDeadline time.Time) error
	ResolveApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision string, approvedByAdmin bool) error

	// ListOverdueApprovals returns every unresolved approval whose SLA
	// deadline is before `before`, for the Approval Gate's escalation
	// sweep (§4.7).
	ListOverdueApprovals(ctx context.Context, before time.Time) ([]models.PendingApproval, error)

	// AppendAuditEntry appends a hash-chained entry scoped to tenantID,
	// computing this entry's hash over the previous entry's hash plus this
	// entry's own payload (§4.9).
	AppendAuditEntry(ctx context.Context, tenantID, eventType string, payload any) error

	// ListConnections returns every InfrastructureConnection registered for
	// tenantID, for the Connection Resolver to match against a ticket's
	// ci_hint/service/environment (§3).
	ListConnections(ctx context.Context, tenantID string) ([]models.InfrastructureConnection, error)
}

// PostgresStore implements Store directly over a pgx connection pool —
// hand-written SQL, the same "no ORM between the query and the wire"
// approach the rest of the core's pgx usage follows (see
// pkg/connector/database.go), rather than reintroducing a generated-code
// layer for a schema this small.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a Store over an already-open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateRunbook(ctx context.Context, spec models.RunbookSpec) error {
	inputs, err := json.Marshal(spec.Inputs)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling runbook inputs", err)
	}
	prechecks, err := json.Marshal(spec.Prechecks)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling runbook prechecks", err)
	}
	steps, err := json.Marshal(spec.Steps)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling runbook steps", err)
	}
	postchecks, err := json.Marshal(spec.Postchecks)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling runbook postchecks", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runbooks (runbook_id, version, title, service, environment, blast_radius,
			description, inputs, prechecks, steps, postchecks, approval_state, approved_at,
			success_count, run_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (runbook_id, version) DO UPDATE SET
			title = EXCLUDED.title, service = EXCLUDED.service, environment = EXCLUDED.environment,
			blast_radius = EXCLUDED.blast_radius, description = EXCLUDED.description,
			inputs = EXCLUDED.inputs, prechecks = EXCLUDED.prechecks, steps = EXCLUDED.steps,
			postchecks = EXCLUDED.postchecks, approval_state = EXCLUDED.approval_state,
			approved_at = EXCLUDED.approved_at, updated_at = now()`,
		spec.RunbookID, spec.Version, spec.Title, spec.Service, spec.Environment, string(spec.BlastRadius),
		spec.Description, inputs, prechecks, steps, postchecks, string(spec.Approval), spec.ApprovedAt,
		spec.SuccessCount, spec.RunCount,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "inserting runbook", err)
	}
	return nil
}

func (s *PostgresStore) GetRunbook(ctx context.Context, ref models.RunbookRef) (models.RunbookSpec, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT runbook_id, version, title, service, environment, blast_radius, description,
			inputs, prechecks, steps, postchecks, approval_state, approved_at, success_count, run_count
		FROM runbooks WHERE runbook_id = $1 AND version = $2`, ref.RunbookID, ref.Version)
	return scanRunbook(row)
}

func (s *PostgresStore) ListApprovedRunbooks(ctx context.Context) ([]models.RunbookSpec, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT runbook_id, version, title, service, environment, blast_radius, description,
			inputs, prechecks, steps, postchecks, approval_state, approved_at, success_count, run_count
		FROM runbooks WHERE approval_state = $1`, string(models.RunbookApproved))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing approved runbooks", err)
	}
	defer rows.Close()

	var specs []models.RunbookSpec
	for rows.Next() {
		spec, err := scanRunbook(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

func (s *PostgresStore) RecordRunbookOutcome(ctx context.Context, ref models.RunbookRef, succeeded bool) error {
	successDelta := 0
	if succeeded {
		successDelta = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE runbooks SET run_count = run_count + 1, success_count = success_count + $1, updated_at = now()
		WHERE runbook_id = $2 AND version = $3`, successDelta, ref.RunbookID, ref.Version)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "recording runbook outcome", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunbook(row rowScanner) (models.RunbookSpec, error) {
	var spec models.RunbookSpec
	var blastRadius, approval string
	var inputs, prechecks, steps, postchecks []byte

	err := row.Scan(&spec.RunbookID, &spec.Version, &spec.Title, &spec.Service, &spec.Environment,
		&blastRadius, &spec.Description, &inputs, &prechecks, &steps, &postchecks, &approval,
		&spec.ApprovedAt, &spec.SuccessCount, &spec.RunCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RunbookSpec{}, ErrNotFound
	}
	if err != nil {
		return models.RunbookSpec{}, orcherr.Wrap(orcherr.KindInternal, "scanning runbook row", err)
	}

	spec.BlastRadius = models.BlastRadius(blastRadius)
	spec.Approval = models.RunbookApprovalState(approval)
	if err := json.Unmarshal(inputs, &spec.Inputs); err != nil {
		return models.RunbookSpec{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling runbook inputs", err)
	}
	if err := json.Unmarshal(prechecks, &spec.Prechecks); err != nil {
		return models.RunbookSpec{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling runbook prechecks", err)
	}
	if err := json.Unmarshal(steps, &spec.Steps); err != nil {
		return models.RunbookSpec{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling runbook steps", err)
	}
	if err := json.Unmarshal(postchecks, &spec.Postchecks); err != nil {
		return models.RunbookSpec{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling runbook postchecks", err)
	}
	return spec, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	metadata, err := json.Marshal(ticket.Metadata)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling ticket metadata", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tickets (ticket_id, source, title, description, severity, environment, service,
			ci_hint, metadata, status, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (ticket_id) DO NOTHING`,
		ticket.TicketID, ticket.Source, ticket.Title, ticket.Description, string(ticket.Severity),
		ticket.Environment, ticket.Service, ticket.CIHint, metadata, string(ticket.Status), ticket.ReceivedAt,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "inserting ticket", err)
	}
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	var severity, status string
	var metadata []byte

	err := s.pool.QueryRow(ctx, `
		SELECT ticket_id, source, title, description, severity, environment, service, ci_hint,
			metadata, status, received_at
		FROM tickets WHERE ticket_id = $1`, ticketID,
	).Scan(&ticket.TicketID, &ticket.Source, &ticket.Title, &ticket.Description, &severity,
		&ticket.Environment, &ticket.Service, &ticket.CIHint, &metadata, &status, &ticket.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ErrNotFound
	}
	if err != nil {
		return models.Ticket{}, orcherr.Wrap(orcherr.KindInternal, "fetching ticket", err)
	}
	ticket.Severity = models.Severity(severity)
	ticket.Status = models.TicketStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ticket.Metadata); err != nil {
			return models.Ticket{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling ticket metadata", err)
		}
	}
	return ticket, nil
}

func (s *PostgresStore) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tickets SET status = $1 WHERE ticket_id = $2`, string(status), ticketID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "updating ticket status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session models.ExecutionSession) (models.ExecutionSession, bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_sessions (session_id, tenant_id, ticket_id, runbook_id, runbook_version,
			validation_mode, sandbox_profile, status, pause_reason, current_step_index,
			waiting_for_approval, approval_step_index, assigned_worker_id, assignment_retry_count,
			last_event_seq, idempotency_key, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		session.SessionID, session.TenantID, session.TicketID, session.Runbook.RunbookID, session.Runbook.Version,
		string(session.ValidationMode), session.SandboxProfile, string(session.Status), string(session.PauseReason),
		session.CurrentStepIndex, session.WaitingForApproval, session.ApprovalStepIndex, session.AssignedWorkerID,
		session.AssignmentRetryCount, session.LastEventSeq, session.IdempotencyKey, session.CreatedAt,
		session.UpdatedAt, session.CompletedAt,
	)
	if err == nil {
		return session, true, nil
	}
	if !isUniqueViolation(err) {
		return models.ExecutionSession{}, false, orcherr.Wrap(orcherr.KindInternal, "inserting session", err)
	}

	existing, findErr := s.findSessionByIdempotencyKey(ctx, session.TenantID, session.IdempotencyKey)
	if findErr != nil {
		return models.ExecutionSession{}, false, findErr
	}
	return existing, false, nil
}

func (s *PostgresStore) findSessionByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (models.ExecutionSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelectColumns+` FROM execution_sessions WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, idempotencyKey)
	return scanSession(row)
}

const sessionSelectColumns = `
	SELECT session_id, tenant_id, ticket_id, runbook_id, runbook_version, validation_mode,
		sandbox_profile, status, pause_reason, current_step_index, waiting_for_approval,
		approval_step_index, assigned_worker_id, assignment_retry_count, last_event_seq,
		idempotency_key, created_at, updated_at, completed_at`

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (models.ExecutionSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelectColumns+` FROM execution_sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *PostgresStore) ListSessionsByStatus(ctx context.Context, tenantID string, status models.SessionStatus) ([]models.ExecutionSession, error) {
	rows, err := s.pool.Query(ctx, sessionSelectColumns+` FROM execution_sessions WHERE tenant_id = $1 AND status = $2`,
		tenantID, string(status))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing sessions by status", err)
	}
	defer rows.Close()

	var sessions []models.ExecutionSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (models.ExecutionSession, error) {
	var session models.ExecutionSession
	var validationMode, status, pauseReason string

	err := row.Scan(&session.SessionID, &session.TenantID, &session.TicketID, &session.Runbook.RunbookID,
		&session.Runbook.Version, &validationMode, &session.SandboxProfile, &status, &pauseReason,
		&session.CurrentStepIndex, &session.WaitingForApproval, &session.ApprovalStepIndex,
		&session.AssignedWorkerID, &session.AssignmentRetryCount, &session.LastEventSeq,
		&session.IdempotencyKey, &session.CreatedAt, &session.UpdatedAt, &session.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ExecutionSession{}, ErrNotFound
	}
	if err != nil {
		return models.ExecutionSession{}, orcherr.Wrap(orcherr.KindInternal, "scanning session row", err)
	}
	session.ValidationMode = models.ValidationMode(validationMode)
	session.Status = models.SessionStatus(status)
	session.PauseReason = models.PauseReason(pauseReason)
	return session, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session models.ExecutionSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE execution_sessions SET status = $1, pause_reason = $2, current_step_index = $3,
			waiting_for_approval = $4, approval_step_index = $5, assigned_worker_id = $6,
			assignment_retry_count = $7, last_event_seq = $8, updated_at = now(), completed_at = $9
		WHERE session_id = $10`,
		string(session.Status), string(session.PauseReason), session.CurrentStepIndex,
		session.WaitingForApproval, session.ApprovalStepIndex, session.AssignedWorkerID,
		session.AssignmentRetryCount, session.LastEventSeq, session.CompletedAt, session.SessionID,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "updating session", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertStep(ctx context.Context, step models.ExecutionStep) error {
	credentialRef, err := json.Marshal(step.Credential)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling step credential reference", err)
	}
	rollbackResult, err := json.Marshal(step.RollbackResult)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling step rollback result", err)
	}
	retryPolicy, err := json.Marshal(step.RetryPolicy)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling step retry policy", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_steps (session_id, step_index, name, phase, kind, command, credential_ref,
			requires_approval, approved_by, approved_at, status, stdout, stderr, exit_code, execution_ms,
			error_kind, error_message, rollback_command, rollback_result, retry_policy, retry_count,
			idempotency_key, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (session_id, step_index) DO UPDATE SET
			status = EXCLUDED.status, stdout = EXCLUDED.stdout, stderr = EXCLUDED.stderr,
			exit_code = EXCLUDED.exit_code, execution_ms = EXCLUDED.execution_ms,
			error_kind = EXCLUDED.error_kind, error_message = EXCLUDED.error_message,
			rollback_result = EXCLUDED.rollback_result, retry_count = EXCLUDED.retry_count,
			approved_by = EXCLUDED.approved_by, approved_at = EXCLUDED.approved_at,
			started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at`,
		step.SessionID, step.StepIndex, step.Name, string(step.Phase), string(step.Kind), step.Command,
		credentialRef, step.RequiresApproval, step.ApprovedBy, step.ApprovedAt, string(step.Status),
		step.Stdout, step.Stderr, step.ExitCode, step.ExecutionMS, step.ErrorKind, step.ErrorMessage,
		step.RollbackCommand, rollbackResult, retryPolicy, step.RetryCount, step.IdempotencyKey,
		step.StartedAt, step.CompletedAt,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "upserting step", err)
	}
	return nil
}

const stepSelectColumns = `
	SELECT session_id, step_index, name, phase, kind, command, credential_ref, requires_approval,
		approved_by, approved_at, status, stdout, stderr, exit_code, execution_ms, error_kind,
		error_message, rollback_command, rollback_result, retry_policy, retry_count, idempotency_key,
		started_at, completed_at`

func (s *PostgresStore) GetStep(ctx context.Context, sessionID string, stepIndex int) (models.ExecutionStep, error) {
	row := s.pool.QueryRow(ctx, stepSelectColumns+` FROM execution_steps WHERE session_id = $1 AND step_index = $2`,
		sessionID, stepIndex)
	return scanStep(row)
}

func (s *PostgresStore) ListSteps(ctx context.Context, sessionID string) ([]models.ExecutionStep, error) {
	rows, err := s.pool.Query(ctx, stepSelectColumns+` FROM execution_steps WHERE session_id = $1 ORDER BY step_index`, sessionID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing steps", err)
	}
	defer rows.Close()

	var steps []models.ExecutionStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(row rowScanner) (models.ExecutionStep, error) {
	var step models.ExecutionStep
	var phase, kind, status string
	var credentialRef, rollbackResult, retryPolicy []byte

	err := row.Scan(&step.SessionID, &step.StepIndex, &step.Name, &phase, &kind, &step.Command,
		&credentialRef, &step.RequiresApproval, &step.ApprovedBy, &step.ApprovedAt, &status,
		&step.Stdout, &step.Stderr, &step.ExitCode, &step.ExecutionMS, &step.ErrorKind, &step.ErrorMessage,
		&step.RollbackCommand, &rollbackResult, &retryPolicy, &step.RetryCount, &step.IdempotencyKey,
		&step.StartedAt, &step.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ExecutionStep{}, ErrNotFound
	}
	if err != nil {
		return models.ExecutionStep{}, orcherr.Wrap(orcherr.KindInternal, "scanning step row", err)
	}
	step.Phase = models.StepPhase(phase)
	step.Kind = models.StepKind(kind)
	step.Status = models.StepStatus(status)
	if len(credentialRef) > 0 {
		if err := json.Unmarshal(credentialRef, &step.Credential); err != nil {
			return models.ExecutionStep{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling step credential reference", err)
		}
	}
	if len(rollbackResult) > 0 {
		if err := json.Unmarshal(rollbackResult, &step.RollbackResult); err != nil {
			return models.ExecutionStep{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling step rollback result", err)
		}
	}
	if len(retryPolicy) > 0 {
		if err := json.Unmarshal(retryPolicy, &step.RetryPolicy); err != nil {
			return models.ExecutionStep{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling step retry policy", err)
		}
	}
	return step, nil
}

func (s *PostgresStore) UpsertWorker(ctx context.Context, worker models.AgentWorker) error {
	capabilities := make([]string, len(worker.CapabilitySet))
	for i, c := range worker.CapabilitySet {
		capabilities[i] = string(c)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_workers (worker_id, tenant_scope, network_segment, capability_set,
			current_load, max_load, last_heartbeat_at, state, cert_serial, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (worker_id) DO UPDATE SET
			tenant_scope = EXCLUDED.tenant_scope, network_segment = EXCLUDED.network_segment,
			capability_set = EXCLUDED.capability_set, current_load = EXCLUDED.current_load,
			max_load = EXCLUDED.max_load, last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			state = EXCLUDED.state, cert_serial = EXCLUDED.cert_serial`,
		worker.WorkerID, worker.TenantScope, worker.NetworkSegment, capabilities, worker.CurrentLoad,
		worker.MaxLoad, worker.LastHeartbeatAt, string(worker.State), worker.CertSerial, worker.RegisteredAt,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "upserting worker", err)
	}
	return nil
}

const workerSelectColumns = `
	SELECT worker_id, tenant_scope, network_segment, capability_set, current_load, max_load,
		last_heartbeat_at, state, cert_serial, registered_at`

func (s *PostgresStore) GetWorker(ctx context.Context, workerID string) (models.AgentWorker, error) {
	row := s.pool.QueryRow(ctx, workerSelectColumns+` FROM agent_workers WHERE worker_id = $1`, workerID)
	return scanWorker(row)
}

func (s *PostgresStore) ListWorkersByState(ctx context.Context, tenantID string, state models.WorkerState) ([]models.AgentWorker, error) {
	rows, err := s.pool.Query(ctx, workerSelectColumns+` FROM agent_workers WHERE $1 = ANY(tenant_scope) AND state = $2`,
		tenantID, string(state))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing workers by state", err)
	}
	defer rows.Close()

	var workers []models.AgentWorker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func scanWorker(row rowScanner) (models.AgentWorker, error) {
	var worker models.AgentWorker
	var state string
	var capabilities []string

	err := row.Scan(&worker.WorkerID, &worker.TenantScope, &worker.NetworkSegment, &capabilities,
		&worker.CurrentLoad, &worker.MaxLoad, &worker.LastHeartbeatAt, &state, &worker.CertSerial,
		&worker.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AgentWorker{}, ErrNotFound
	}
	if err != nil {
		return models.AgentWorker{}, orcherr.Wrap(orcherr.KindInternal, "scanning worker row", err)
	}
	worker.State = models.WorkerState(state)
	worker.CapabilitySet = make([]models.ConnectorKind, len(capabilities))
	for i, c := range capabilities {
		worker.CapabilitySet[i] = models.ConnectorKind(c)
	}
	return worker, nil
}

func (s *PostgresStore) CreateApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision, approverRole string, slaDeadline time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_requests (session_id, step_index, decision, approver_role, sla_deadline)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id, step_index, decision) DO NOTHING`,
		sessionID, stepIndex, decision, approverRole, slaDeadline,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "creating approval request", err)
	}
	return nil
}

func (s *PostgresStore) ResolveApprovalRequest(ctx context.Context, sessionID string, stepIndex int, decision string, approvedByAdmin bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET approved_by_admin = $1, resolved_at = now()
		WHERE session_id = $2 AND step_index = $3 AND decision = $4 AND resolved_at IS NULL`,
		approvedByAdmin, sessionID, stepIndex, decision,
	)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "resolving approval request", err)
	}
	return nil
}

func (s *PostgresStore) ListOverdueApprovals(ctx context.Context, before time.Time) ([]models.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, step_index, decision, sla_deadline
		FROM approval_requests
		WHERE resolved_at IS NULL AND decision = 'pending' AND sla_deadline < $1`,
		before,
	)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing overdue approvals", err)
	}
	defer rows.Close()

	var out []models.PendingApproval
	for rows.Next() {
		var p models.PendingApproval
		if err := rows.Scan(&p.SessionID, &p.StepIndex, &p.Decision, &p.SLADeadline); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "scanning overdue approval row", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "iterating overdue approvals", err)
	}
	return out, nil
}

// AppendAuditEntry appends a hash-chained audit entry within a single
// transaction: it reads the tenant's last hash, computes this entry's
// hash over (prev_hash || event_type || payload), and inserts — holding
// the prior row's lock for the duration so concurrent appends for the
// same tenant serialize rather than racing on prev_hash (§4.9).
func (s *PostgresStore) AppendAuditEntry(ctx context.Context, tenantID, eventType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshaling audit payload", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "beginning audit transaction", err)
	}
	defer tx.Rollback(ctx)

	var prevHash string
	err = tx.QueryRow(ctx, `
		SELECT hash FROM audit_log WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1 FOR UPDATE`,
		tenantID).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return orcherr.Wrap(orcherr.KindInternal, "reading last audit hash", err)
	}

	hash := chainHash(prevHash, eventType, payloadJSON)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (tenant_id, event_type, payload, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5)`, tenantID, eventType, payloadJSON, prevHash, hash)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "inserting audit entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "committing audit transaction", err)
	}
	return nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, tenantID string) ([]models.InfrastructureConnection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, name, connector, environment, service, ci_hint, target, credential_ref
		FROM infrastructure_connections WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "listing connections", err)
	}
	defer rows.Close()

	var connections []models.InfrastructureConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func scanConnection(row rowScanner) (models.InfrastructureConnection, error) {
	var conn models.InfrastructureConnection
	var connector string
	var target, credentialRef []byte

	err := row.Scan(&conn.TenantID, &conn.Name, &connector, &conn.Environment, &conn.Service,
		&conn.CIHint, &target, &credentialRef)
	if err != nil {
		return models.InfrastructureConnection{}, orcherr.Wrap(orcherr.KindInternal, "scanning connection row", err)
	}

	conn.Connector = models.ConnectorKind(connector)
	if err := json.Unmarshal(target, &conn.Target); err != nil {
		return models.InfrastructureConnection{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling connection target", err)
	}
	if err := json.Unmarshal(credentialRef, &conn.Credential); err != nil {
		return models.InfrastructureConnection{}, orcherr.Wrap(orcherr.KindInternal, "unmarshaling connection credential ref", err)
	}
	return conn, nil
}

func chainHash(prevHash, eventType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(eventType))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal CreateSession uses to detect an
// idempotency-key collision.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
