package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// mapError maps a core error to an HTTP error response. Errors tagged with
// an orcherr.Kind are mapped by kind (§7); anything else, including
// database.ErrNotFound, falls back to a generic mapping so a programmer
// error never leaks raw internals to the caller.
func mapError(err error) *echo.HTTPError {
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	var taxErr *orcherr.Error
	if errors.As(err, &taxErr) {
		switch taxErr.Kind {
		case orcherr.KindValidation:
			return echo.NewHTTPError(http.StatusBadRequest, taxErr.Message)
		case orcherr.KindPolicyDenied, orcherr.KindApprovalRejected, orcherr.KindApprovalExpired:
			return echo.NewHTTPError(http.StatusConflict, taxErr.Message)
		case orcherr.KindCredentialError, orcherr.KindConnectorPermanent, orcherr.KindConnectorTransient, orcherr.KindTargetBusy, orcherr.KindTimeout, orcherr.KindWorkerLost:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, taxErr.Message)
		default:
			slog.Error("internal API error", "kind", taxErr.Kind, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	slog.Error("unmapped API error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
