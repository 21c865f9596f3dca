package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requireTenant rejects operator-surface requests that carry no tenant
// scope. Every database.Store call is tenant-scoped (§3); accepting an
// unscoped request here would otherwise surface as a confusing downstream
// error instead of a clear 400 at the boundary.
func requireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if extractTenantID(c) == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "X-Tenant-ID header is required")
			}
			return next(c)
		}
	}
}

// requireWorkerCert enforces the worker interface's mTLS requirement (§6:
// "Worker interface (mTLS)"). The front-end listener is expected to
// terminate mTLS and require a client certificate before traffic reaches
// this handler (see cmd/orchestrator's server setup); this middleware is
// the last-line check that the certificate actually made it through,
// rejecting anything that looks like it bypassed the TLS listener.
func requireWorkerCert() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			tlsState := c.Request().TLS
			if tlsState == nil || len(tlsState.PeerCertificates) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "client certificate required")
			}
			return next(c)
		}
	}
}
