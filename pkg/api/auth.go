package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractOperator identifies the human or system caller for audit-trail
// attribution, mirroring the oauth2-proxy header convention:
// X-Forwarded-User > X-Forwarded-Email > a generic fallback identity.
func extractOperator(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// extractTenantID reads the tenant scope oauth2-proxy (or an mTLS-aware
// front proxy) attaches to the request. Every Store call is tenant-scoped
// (§3), so a missing header means the caller is unauthenticated for this
// surface, not that requests should fall back to some default tenant.
func extractTenantID(c *echo.Context) string {
	return c.Request().Header.Get("X-Tenant-ID")
}
