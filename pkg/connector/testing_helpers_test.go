package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/credential"
	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// credentialHandleForTest materializes a *credential.Handle over material
// through the real Broker/Store path, so connector tests exercise the same
// Use-bounded access production code does rather than poking at unexported
// Handle fields.
func credentialHandleForTest(t *testing.T, material string) *credential.Handle {
	t.Helper()
	broker := credential.NewBroker(testStore{material: []byte(material)})
	handle, err := broker.Fetch(context.Background(), models.CredentialReference{ID: "test", Kind: "generic"}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { broker.Release(handle) })
	return handle
}
