package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

func TestGCPIAPConnectorExecutesCommand(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"stdout":   "ok\n",
			"stderr":   "",
			"exitCode": 0,
		})
	}))
	defer srv.Close()

	c := NewGCPIAPConnector(srv.Client())
	c.endpointOverride = srv.URL

	target := models.ConnectionTarget{ProjectID: "proj", Zone: "us-central1-a", CloudResource: "instance-1"}
	sink := &recordingSink{}

	result, err := c.Execute(context.Background(), target, credentialHandleForTest(t, "identity-token"), Command{Text: "uptime"}, sink)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok\n", result.Stdout)
	assert.Equal(t, "Bearer identity-token", gotAuth)
	assert.Equal(t, "ok\n", string(sink.stdout))
}

func TestGCPIAPConnectorMarksServerErrorsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewGCPIAPConnector(srv.Client())
	c.endpointOverride = srv.URL

	target := models.ConnectionTarget{ProjectID: "proj", Zone: "us-central1-a", CloudResource: "instance-1"}
	result, err := c.Execute(context.Background(), target, credentialHandleForTest(t, "tok"), Command{Text: "uptime"}, NullSink{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "connector_transient", string(result.ErrKind))
}

func TestGCPIAPConnectorKind(t *testing.T) {
	assert.Equal(t, models.ConnectorGCPIAP, NewGCPIAPConnector(nil).Kind())
}
