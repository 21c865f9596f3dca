package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// ticketWebhookHandler handles POST /tickets/webhook, the inbound ticket
// ingestion surface (§6). The webhook must carry a signature header and a
// timestamp; replays older than five minutes (or from an already-seen
// nonce) are rejected.
func (s *Server) ticketWebhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	if len(s.webhookSecret) > 0 {
		sig := c.Request().Header.Get("X-Webhook-Signature")
		tsHeader := c.Request().Header.Get("X-Webhook-Timestamp")
		nonce := c.Request().Header.Get("X-Webhook-Nonce")
		if sig == "" || tsHeader == "" || nonce == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing webhook signature headers")
		}
		ts, err := time.Parse(time.RFC3339, tsHeader)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook timestamp")
		}
		if !verifyWebhookSignature(s.webhookSecret, body, sig, ts, time.Now()) {
			return echo.NewHTTPError(http.StatusUnauthorized, "webhook signature verification failed")
		}
		if !s.nonces.checkAndRecord(nonce, time.Now()) {
			return echo.NewHTTPError(http.StatusUnauthorized, "webhook nonce already used")
		}
	}

	var req TicketWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	severity := models.Severity(req.Severity)
	if !severity.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown severity: "+req.Severity)
	}

	ticketID := req.ID
	if ticketID == "" {
		ticketID = req.Source + ":" + req.Title
	}

	ticket := models.Ticket{
		TicketID:    ticketID,
		Source:      req.Source,
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		Environment: req.Environment,
		Service:     req.Service,
		CIHint:      req.CIHint,
		Metadata:    req.Metadata,
		Status:      models.TicketOpen,
		ReceivedAt:  time.Now(),
	}

	if err := s.store.CreateTicket(c.Request().Context(), ticket); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, &TicketWebhookResponse{TicketID: ticket.TicketID, Status: string(ticket.Status)})
}

// ticketStatusHandler handles POST /tickets/{id}/status — the internal
// callback the Ticket Outcome Adapter calls into (§4.9, §6). This is the
// boundary behind which a concrete vendor integration (Jira, ServiceNow,
// ...) would forward the status onward; absent one configured, recording
// the call in the audit log is sufficient to make the outcome observable.
func (s *Server) ticketStatusHandler(c *echo.Context) error {
	ticketID := c.Param("id")
	var req TicketStatusCallbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	status := models.TicketStatus(req.Status)
	switch status {
	case models.TicketOpen, models.TicketAnalyzing, models.TicketInProgress, models.TicketResolved, models.TicketEscalated, models.TicketClosed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown ticket status: "+req.Status)
	}

	if _, err := s.store.GetTicket(c.Request().Context(), ticketID); err != nil {
		return mapError(err)
	}

	// Tickets are not tenant-partitioned, so there is no tenant to scope an
	// audit entry under here — log instead; a configured vendor integration
	// would forward the call onward at this point.
	slog.Info("ticket status callback received", "ticket_id", ticketID, "status", status, "idempotency_key", req.IdempotencyKey)

	return c.NoContent(http.StatusNoContent)
}
