package ticketadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// TicketStore is the slice of database.Store the adapter writes the
// classified outcome to, so the ticket's local record reflects the
// session's result even if the external vendor call itself fails.
type TicketStore interface {
	UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error
}

// Provider delivers the classified outcome to the external ticketing
// system named by the ticket's Source (Jira, ServiceNow, PagerDuty, ...).
// idempotencyKey is the session's own idempotency key (§4.9: "calls to
// external ticketing APIs are idempotent on the session's idempotency_key;
// duplicate emission is safe") — implementations pass it through as a
// request-level idempotency token rather than deriving their own.
type Provider interface {
	UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus, idempotencyKey string) error
}

// Adapter is the Ticket Outcome Adapter (§4.9): classify a terminated
// session's outcome and deliver it both to this module's own ticket
// record and to the external vendor.
type Adapter struct {
	store    TicketStore
	provider Provider
	log      *slog.Logger
}

// New builds an Adapter. provider may be nil, in which case Notify only
// updates the local ticket record — useful for a deployment ingesting
// tickets from a source with no writable status callback.
func New(store TicketStore, provider Provider) *Adapter {
	return &Adapter{store: store, provider: provider, log: slog.With("component", "ticketadapter")}
}

// Notify classifies session's outcome (session must already be terminal)
// and reports it. The local store write and the external provider call
// are independent: a provider failure is returned to the caller (who
// should retry the whole terminal-state handling, since both calls are
// idempotent and safe to repeat), but the local write always happens
// first so an operator reading this module's own state sees the outcome
// even if the vendor is unreachable.
func (a *Adapter) Notify(ctx context.Context, session models.ExecutionSession, steps []models.ExecutionStep) error {
	if !session.Status.IsTerminal() {
		return fmt.Errorf("ticketadapter: session %s is not terminal (status %s)", session.SessionID, session.Status)
	}

	status := Classify(session, steps)

	if err := a.store.UpdateTicketStatus(ctx, session.TicketID, status); err != nil {
		return fmt.Errorf("ticketadapter: updating local ticket record: %w", err)
	}
	a.log.Info("ticket outcome classified", "session_id", session.SessionID, "ticket_id", session.TicketID, "status", status)

	if a.provider == nil {
		return nil
	}
	if err := a.provider.UpdateStatus(ctx, session.TicketID, status, session.IdempotencyKey); err != nil {
		return fmt.Errorf("ticketadapter: notifying external ticket provider: %w", err)
	}
	return nil
}

// HTTPProvider is the default Provider, speaking the orchestrator's own
// `/tickets/{id}/status` callback (§6) — the boundary behind which the
// concrete vendor integration (Jira, ServiceNow, ...) lives, kept out of
// this module's own dependency surface.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider builds a provider against baseURL (e.g.
// "https://orchestrator.internal:8443").
func NewHTTPProvider(baseURL string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{baseURL: baseURL, httpClient: httpClient}
}

type ticketStatusRequestBody struct {
	Status         models.TicketStatus `json:"status"`
	IdempotencyKey string              `json:"idempotency_key"`
}

func (p *HTTPProvider) UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus, idempotencyKey string) error {
	body, err := json.Marshal(ticketStatusRequestBody{Status: status, IdempotencyKey: idempotencyKey})
	if err != nil {
		return fmt.Errorf("ticketadapter: encoding status request: %w", err)
	}

	url := fmt.Sprintf("%s/tickets/%s/status", p.baseURL, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ticketadapter: building status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticketadapter: status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ticketadapter: status callback returned %d", resp.StatusCode)
	}
	return nil
}
