// Package api implements the orchestrator's operator and worker-facing
// HTTP surface (§6): execution lifecycle, worker registration/heartbeat,
// the ticket outcome callback, and the live event stream.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/orchestrator/pkg/approval"
	"github.com/codeready-toolchain/orchestrator/pkg/config"
	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/events"
	"github.com/codeready-toolchain/orchestrator/pkg/matcher"
	"github.com/codeready-toolchain/orchestrator/pkg/session"
	"github.com/codeready-toolchain/orchestrator/pkg/version"
)

// Server is the orchestrator's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg            *config.Config
	pool           *pgxpool.Pool
	store          database.Store
	machine        *session.Machine
	gate           *approval.Gate
	connManager    *events.ConnectionManager
	catchupQuerier events.CatchupQuerier
	matcher        *matcher.Matcher // nil if no similarity index is configured
	webhookSecret  []byte           // nil disables signature verification (dev/test only)
	nonces         *nonceCache
}

// NewServer builds a Server with every route registered.
func NewServer(
	cfg *config.Config,
	pool *pgxpool.Pool,
	store database.Store,
	machine *session.Machine,
	gate *approval.Gate,
	connManager *events.ConnectionManager,
	catchupQuerier events.CatchupQuerier,
) *Server {
	e := echo.New()

	s := &Server{
		echo:           e,
		cfg:            cfg,
		pool:           pool,
		store:          store,
		machine:        machine,
		gate:           gate,
		connManager:    connManager,
		catchupQuerier: catchupQuerier,
		nonces:         newNonceCache(),
	}

	s.setupRoutes()
	return s
}

// SetMatcher wires an optional Matcher for ticket-ingestion runbook
// suggestion. Left unset, the webhook handler only records the ticket —
// session creation still happens via the explicit POST /executions call.
func (s *Server) SetMatcher(m *matcher.Matcher) {
	s.matcher = m
}

// SetWebhookSecret configures the HMAC secret used to verify inbound
// ticket webhook signatures (§6). Left unset, signature verification is
// skipped — acceptable only for local/dev deployments.
func (s *Server) SetWebhookSecret(secret []byte) {
	s.webhookSecret = secret
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	operator := s.echo.Group("", requireTenant())
	operator.POST("/executions", s.createExecutionHandler)
	operator.GET("/executions/:id", s.getExecutionHandler)
	operator.POST("/executions/:id/approve", s.approveExecutionHandler)
	operator.POST("/executions/:id/cancel", s.cancelExecutionHandler)
	operator.GET("/executions/:id/events", s.getExecutionEventsHandler)
	operator.GET("/executions/:id/ws", s.wsHandler)

	// Inbound ticket ingestion and the outcome callback are unauthenticated
	// at the tenant-header level — the ticket source and this module's own
	// Ticket Outcome Adapter are both internal collaborators, not operators.
	s.echo.POST("/tickets/webhook", s.ticketWebhookHandler)
	s.echo.POST("/tickets/:id/status", s.ticketStatusHandler)

	workers := s.echo.Group("/workers", requireWorkerCert())
	workers.POST("/register", s.registerWorkerHandler)
	workers.POST("/:id/heartbeat", s.workerHeartbeatHandler)
}

// Start starts the HTTP server on the given address (non-blocking, plain
// TCP — mTLS for /workers/* is expected to be terminated by a TLS listener
// wrapping this handler; see cmd/orchestrator).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := "healthy"

	if _, err := database.Health(reqCtx, s.pool); err != nil {
		status = "unhealthy"
		checks["database"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: "healthy"}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
