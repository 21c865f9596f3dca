package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to the
// ConnectionManager for this execution's live event stream (§6: "WS
// /executions/{id} -> live event stream ... for resume"). The client
// subscribes to the session's channel via a ClientMessage after connect;
// catchup from Last-Event-Seq happens on that subscribe (see
// events.ConnectionManager.subscribe).
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming not available")
	}

	originPatterns := s.cfg.System.AllowedWSOrigins

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
