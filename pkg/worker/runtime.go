// Package worker implements the Worker Runtime (§4.3): a long-lived process
// that registers with the orchestrator, heartbeats, claims command
// assignments from the durable queue, and drives each step through the
// Policy Engine, Credential Broker, and a Connector Adapter in turn.
//
// Structurally this adapts the teacher's WorkerPool/Worker lifecycle
// (goroutine-per-slot polling loop, graceful drain on Stop, Health
// snapshot) to a queue-claim model: instead of claiming a row with
// `SELECT ... FOR UPDATE SKIP LOCKED`, each slot claims a message from
// pkg/queue and reports its outcome back into the Session State Machine
// rather than writing directly to storage.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/connector"
	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/masking"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/policy"
	"github.com/codeready-toolchain/orchestrator/pkg/queue"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
)

// Status is a slot's current activity, surfaced through Health (mirrors
// the teacher's idle/working worker status tracking).
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// SlotHealth is one concurrent claim-loop's health snapshot.
type SlotHealth struct {
	ID                string    `json:"id"`
	Status            Status    `json:"status"`
	CurrentSessionID  string    `json:"current_session_id,omitempty"`
	StepsProcessed    int       `json:"steps_processed"`
	LastActivity      time.Time `json:"last_activity"`
}

// Health is the Worker Runtime's own health snapshot (§6 health surface).
type Health struct {
	WorkerID      string       `json:"worker_id"`
	State         string       `json:"state"`
	CurrentLoad   int          `json:"current_load"`
	MaxLoad       int          `json:"max_load"`
	Slots         []SlotHealth `json:"slots"`
}

// Queue is the slice of *queue.Queue the runtime claims from.
type Queue interface {
	Claim(ctx context.Context, consumerName string, count int64, blockFor time.Duration) ([]queue.ClaimedMessage, error)
	Ack(ctx context.Context, msg queue.ClaimedMessage) error
	Nak(ctx context.Context, msg queue.ClaimedMessage, reason string)
}

// SessionMachine is the slice of *session.Machine the runtime reports step
// outcomes back into.
type SessionMachine interface {
	RecordStepResult(ctx context.Context, sessionID string, stepIndex int, workerID string, result session.StepResult) error
	RecordRollbackResult(ctx context.Context, sessionID string, stepIndex int, workerID string, result session.StepResult) error
}

// EventPublisher is the slice of *events.EventPublisher the runtime streams
// step output through.
type EventPublisher interface {
	PublishStepOutput(ctx context.Context, sessionID string, payload events.StepOutputPayload) error
}

// Config controls the runtime's claim loop and registration cadence.
type Config struct {
	Concurrency       int
	TenantScope       []string
	NetworkSegment    string
	CapabilitySet     []models.ConnectorKind
	MaxLoad           int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PollIntervalJitter time.Duration
	ClaimBatchSize    int64
	ClaimBlockFor     time.Duration
}

// Runtime is one Worker Runtime process (§4.3): one registered AgentWorker
// identity fanning out across Concurrency concurrent claim-loop slots, all
// sharing the same Redis consumer identity so pkg/queue's consumer group
// load-balances assignments across them.
type Runtime struct {
	cfg        Config
	queue      Queue
	connectors *connector.Registry
	creds      *credential.Broker
	policy     *policy.Engine
	masker     *masking.Service
	publisher  EventPublisher
	machine    SessionMachine
	registrar  OrchestratorClient
	breakers   *breakerSet

	workerID   string
	certSerial string

	mu    sync.RWMutex
	load  int
	slots []*slotState

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type slotState struct {
	id     string
	mu     sync.RWMutex
	status Status
	sessID string
	steps  int
	lastAt time.Time
}

func (s *slotState) snapshot() SlotHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SlotHealth{ID: s.id, Status: s.status, CurrentSessionID: s.sessID, StepsProcessed: s.steps, LastActivity: s.lastAt}
}

func (s *slotState) setWorking(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusWorking
	s.sessID = sessionID
	s.lastAt = time.Now()
}

func (s *slotState) setIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.sessID = ""
	s.steps++
	s.lastAt = time.Now()
}

// New constructs a Runtime. Call Start to register with the orchestrator
// and begin claiming work.
func New(cfg Config, q Queue, connectors *connector.Registry, creds *credential.Broker, policyEngine *policy.Engine, masker *masking.Service, publisher EventPublisher, machine SessionMachine, registrar OrchestratorClient) *Runtime {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 1
	}
	slots := make([]*slotState, cfg.Concurrency)
	for i := range slots {
		slots[i] = &slotState{id: fmt.Sprintf("slot-%d", i), status: StatusIdle, lastAt: time.Now()}
	}
	return &Runtime{
		cfg:        cfg,
		queue:      q,
		connectors: connectors,
		creds:      creds,
		policy:     policyEngine,
		masker:     masker,
		publisher:  publisher,
		machine:    machine,
		registrar:  registrar,
		breakers:   newBreakerSet(),
		slots:      slots,
		stopCh:     make(chan struct{}),
	}
}

// Start registers this worker with the orchestrator, then launches the
// heartbeat loop and one claim-loop goroutine per configured slot.
func (r *Runtime) Start(ctx context.Context) error {
	workerID, certSerial, err := r.registrar.RegisterWorker(ctx, RegisterRequest{
		Capabilities:   r.cfg.CapabilitySet,
		NetworkSegment: r.cfg.NetworkSegment,
		TenantScope:    r.cfg.TenantScope,
		MaxLoad:        r.cfg.MaxLoad,
	})
	if err != nil {
		return fmt.Errorf("worker: registering with orchestrator: %w", err)
	}
	r.workerID = workerID
	r.certSerial = certSerial
	slog.Info("worker registered", "worker_id", workerID, "cert_serial", certSerial)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runHeartbeat(ctx)
	}()

	for _, slot := range r.slots {
		slot := slot
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.runSlot(ctx, slot)
		}()
	}

	return nil
}

// Stop signals every slot and the heartbeat loop to stop, and waits for
// in-flight steps to finish before returning (graceful drain).
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Health reports the runtime's current state for the health surface (§6).
func (r *Runtime) Health() Health {
	r.mu.RLock()
	load := r.load
	r.mu.RUnlock()

	slots := make([]SlotHealth, len(r.slots))
	for i, s := range r.slots {
		slots[i] = s.snapshot()
	}
	return Health{
		WorkerID:    r.workerID,
		State:       string(models.WorkerIdle),
		CurrentLoad: load,
		MaxLoad:     r.cfg.MaxLoad,
		Slots:       slots,
	}
}

func (r *Runtime) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			load := r.load
			r.mu.RUnlock()
			if err := r.registrar.Heartbeat(ctx, r.workerID, load); err != nil {
				slog.Warn("worker heartbeat failed", "worker_id", r.workerID, "error", err)
			}
		}
	}
}

func (r *Runtime) runSlot(ctx context.Context, slot *slotState) {
	log := slog.With("worker_id", r.workerID, "slot", slot.id)
	log.Info("slot started")

	for {
		select {
		case <-r.stopCh:
			log.Info("slot shutting down")
			return
		case <-ctx.Done():
			return
		default:
			claimed, err := r.queue.Claim(ctx, r.workerID, r.cfg.ClaimBatchSize, r.cfg.ClaimBlockFor)
			if err != nil {
				if errors.Is(err, queue.ErrQueueEmpty) {
					r.sleep(r.pollInterval())
					continue
				}
				log.Error("claim failed", "error", err)
				r.sleep(time.Second)
				continue
			}
			for _, msg := range claimed {
				r.process(ctx, slot, msg)
			}
		}
	}
}

func (r *Runtime) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

func (r *Runtime) pollInterval() time.Duration {
	base := r.cfg.PollInterval
	jitter := r.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (r *Runtime) adjustLoad(delta int) {
	r.mu.Lock()
	r.load += delta
	r.mu.Unlock()
}
