package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/orchestrator/pkg/database"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", database.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "validation error maps to 400",
			err:        orcherr.New(orcherr.KindValidation, "runbook_id is required"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "runbook_id is required",
		},
		{
			name:       "policy denied maps to 409",
			err:        orcherr.New(orcherr.KindPolicyDenied, "blast radius exceeded"),
			expectCode: http.StatusConflict,
			expectMsg:  "blast radius exceeded",
		},
		{
			name:       "approval rejected maps to 409",
			err:        orcherr.New(orcherr.KindApprovalRejected, "operator rejected step"),
			expectCode: http.StatusConflict,
			expectMsg:  "operator rejected step",
		},
		{
			name:       "approval expired maps to 409",
			err:        orcherr.New(orcherr.KindApprovalExpired, "approval window elapsed"),
			expectCode: http.StatusConflict,
			expectMsg:  "approval window elapsed",
		},
		{
			name:       "credential error maps to 422",
			err:        orcherr.New(orcherr.KindCredentialError, "credential lease denied"),
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "credential lease denied",
		},
		{
			name:       "connector transient maps to 422",
			err:        orcherr.New(orcherr.KindConnectorTransient, "connector unreachable"),
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "connector unreachable",
		},
		{
			name:       "worker lost maps to 422",
			err:        orcherr.New(orcherr.KindWorkerLost, "worker heartbeat lapsed"),
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "worker heartbeat lapsed",
		},
		{
			name:       "internal kind maps to 500 without leaking message",
			err:        orcherr.New(orcherr.KindInternal, "raw stack trace contents"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal error",
		},
		{
			name:       "unmapped error maps to 500",
			err:        errors.New("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, fmt.Sprint(he.Message), tt.expectMsg)
		})
	}
}
