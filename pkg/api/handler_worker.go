package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// registerWorkerHandler handles POST /workers/register (§6, mTLS).
func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var req RegisterWorkerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.NetworkSegment == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "network_segment is required")
	}

	capabilities := make([]models.ConnectorKind, 0, len(req.Capabilities))
	for _, capability := range req.Capabilities {
		kind := models.ConnectorKind(capability)
		if !kind.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown capability: "+capability)
		}
		capabilities = append(capabilities, kind)
	}

	maxLoad := req.MaxLoad
	if maxLoad <= 0 {
		maxLoad = 1
	}

	now := time.Now()
	worker := models.AgentWorker{
		WorkerID:        uuid.NewString(),
		TenantScope:     req.TenantScope,
		NetworkSegment:  req.NetworkSegment,
		CapabilitySet:   capabilities,
		MaxLoad:         maxLoad,
		LastHeartbeatAt: now,
		State:           models.WorkerIdle,
		CertSerial:      uuid.NewString(),
		RegisteredAt:    now,
	}

	if err := s.store.UpsertWorker(c.Request().Context(), worker); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, &RegisterWorkerResponse{WorkerID: worker.WorkerID, CertSerial: worker.CertSerial})
}

// workerHeartbeatHandler handles POST /workers/{id}/heartbeat (§6, mTLS).
func (s *Server) workerHeartbeatHandler(c *echo.Context) error {
	workerID := c.Param("id")
	var req WorkerHeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ctx := c.Request().Context()
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return mapError(err)
	}

	worker.CurrentLoad = req.Load
	worker.LastHeartbeatAt = time.Now()
	if worker.State == models.WorkerOffline || worker.State == models.WorkerErrored {
		worker.State = models.WorkerIdle
	}

	if err := s.store.UpsertWorker(ctx, worker); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
