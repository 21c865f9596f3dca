package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

func TestDatabaseConnectorKind(t *testing.T) {
	assert.Equal(t, models.ConnectorDatabase, NewDatabaseConnector(0).Kind())
}

func TestDatabaseConnectorFailsFastOnUnreachableHost(t *testing.T) {
	c := NewDatabaseConnector(200 * time.Millisecond)
	target := models.ConnectionTarget{Host: "127.0.0.1", Port: 1, Username: "u", Database: "d"}

	_, err := c.Execute(context.Background(), target, credentialHandleForTest(t, "pw"), Command{Text: "select 1"}, NullSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting")
}

func TestMaxDatabaseRowsConstant(t *testing.T) {
	assert.Equal(t, 1000, MaxDatabaseRows)
}
