package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateExecutionHandler_Validation(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store)

	t.Run("missing ticket_id rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions", bytes.NewReader([]byte(`{"runbook_id":"rb-1"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := s.echo.NewContext(req, rec)

		err := s.createExecutionHandler(c)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})

	t.Run("missing runbook_id rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions", bytes.NewReader([]byte(`{"ticket_id":"tix-1"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := s.echo.NewContext(req, rec)

		err := s.createExecutionHandler(c)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})

	t.Run("unknown ticket maps to 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/executions", bytes.NewReader([]byte(`{"ticket_id":"missing","runbook_id":"rb-1"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := s.echo.NewContext(req, rec)

		err := s.createExecutionHandler(c)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, he.Code)
	})
}

func TestGetExecutionHandler(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/executions/missing", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := s.getExecutionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, he.Code)
}

func TestApproveExecutionHandler_Validation(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store)

	req := httptest.NewRequest(http.MethodPost, "/executions/sess-1/approve", bytes.NewReader([]byte(`{"step_index":0,"decision":"maybe"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("sess-1")

	err := s.approveExecutionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestGetExecutionEventsHandler_InvalidSince(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/executions/sess-1/events?since=not-a-number", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("sess-1")

	err := s.getExecutionEventsHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
