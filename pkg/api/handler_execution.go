package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
)

// createExecutionHandler handles POST /executions (§6).
func (s *Server) createExecutionHandler(c *echo.Context) error {
	var req CreateExecutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.TicketID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticket_id is required")
	}
	if req.RunbookID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "runbook_id is required")
	}

	ctx := c.Request().Context()
	tenantID := extractTenantID(c)

	ticket, err := s.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return mapError(err)
	}

	runbook, err := s.store.GetRunbook(ctx, models.RunbookRef{RunbookID: req.RunbookID, Version: req.Version})
	if err != nil {
		return mapError(err)
	}

	mode := models.ValidationMode(req.Mode)
	idempotencyKey := req.Idempotency
	if idempotencyKey == "" {
		idempotencyKey = req.TicketID + ":" + req.RunbookID
	}

	result, err := s.machine.CreateSession(ctx, session.CreateSessionRequest{
		TenantID:       tenantID,
		Ticket:         ticket,
		Runbook:        runbook,
		Mode:           mode,
		Inputs:         req.Inputs,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return mapError(err)
	}

	// CreateSession only persists the queued session and its steps; the
	// first tick that actually dispatches (or approval-gates) step 0 is
	// this explicit Advance, mirroring how every other transition in the
	// package is driven by an external tick rather than happening inline.
	if err := s.machine.Advance(ctx, result.SessionID); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, &CreateExecutionResponse{SessionID: result.SessionID, Created: true})
}

// getExecutionHandler handles GET /executions/{id} (§6).
func (s *Server) getExecutionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	ctx := c.Request().Context()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mapError(err)
	}
	steps, err := s.store.ListSteps(ctx, sessionID)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, &ExecutionSnapshot{Session: sess, Steps: steps})
}

// approveExecutionHandler handles POST /executions/{id}/approve (§6).
func (s *Server) approveExecutionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	var req ApproveStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var decision session.ApprovalDecision
	switch req.Decision {
	case string(session.DecisionApproved):
		decision = session.DecisionApproved
	case string(session.DecisionRejected):
		decision = session.DecisionRejected
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be 'approved' or 'rejected'")
	}

	operator := extractOperator(c)
	if err := s.gate.Resolve(c.Request().Context(), sessionID, req.StepIndex, operator, decision, req.AsAdmin, req.Role, req.Notes); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelExecutionHandler handles POST /executions/{id}/cancel (§6).
func (s *Server) cancelExecutionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	var req CancelExecutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	if err := s.machine.Cancel(c.Request().Context(), sessionID, req.Reason); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, &CancelResponse{SessionID: sessionID, Message: "cancellation requested"})
}

// getExecutionEventsHandler handles GET /executions/{id}/events?since=<seq> (§6).
func (s *Server) getExecutionEventsHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	since := 0
	if v := c.QueryParam("since"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a non-negative integer")
		}
		since = parsed
	}

	const limit = 200
	evts, err := s.catchupQuerier.GetCatchupEvents(c.Request().Context(), events.SessionChannel(sessionID), since, limit+1)
	if err != nil {
		return mapError(err)
	}

	hasMore := len(evts) > limit
	if hasMore {
		evts = evts[:limit]
	}

	out := make([]EventEnvelope, 0, len(evts))
	for _, e := range evts {
		e.Payload["db_event_id"] = e.ID
		out = append(out, EventEnvelope{Seq: e.ID, Payload: e.Payload})
	}

	return c.JSON(http.StatusOK, &EventsReplayResponse{Events: out, HasMore: hasMore})
}
