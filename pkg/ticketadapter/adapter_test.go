package ticketadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

type fakeTicketStore struct {
	updates map[string]models.TicketStatus
}

func (f *fakeTicketStore) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TicketStatus) error {
	if f.updates == nil {
		f.updates = map[string]models.TicketStatus{}
	}
	f.updates[ticketID] = status
	return nil
}

type fakeProvider struct {
	calls []string
	err   error
}

func (f *fakeProvider) UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus, idempotencyKey string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, ticketID+":"+string(status)+":"+idempotencyKey)
	return nil
}

func TestNotify_UpdatesStoreAndProvider(t *testing.T) {
	store := &fakeTicketStore{}
	provider := &fakeProvider{}
	adapter := New(store, provider)

	session := models.ExecutionSession{
		SessionID: "sess-1", TicketID: "TCK-1", Status: models.SessionCompleted, IdempotencyKey: "idem-1",
	}
	steps := []models.ExecutionStep{{Phase: models.PhaseMain, Status: models.StepSucceeded}}

	require.NoError(t, adapter.Notify(context.Background(), session, steps))
	assert.Equal(t, models.TicketResolved, store.updates["TCK-1"])
	assert.Equal(t, []string{"TCK-1:resolved:idem-1"}, provider.calls)
}

func TestNotify_NilProviderOnlyUpdatesStore(t *testing.T) {
	store := &fakeTicketStore{}
	adapter := New(store, nil)

	session := models.ExecutionSession{SessionID: "sess-1", TicketID: "TCK-1", Status: models.SessionCancelled}
	require.NoError(t, adapter.Notify(context.Background(), session, nil))
	assert.Equal(t, models.TicketClosed, store.updates["TCK-1"])
}

func TestNotify_NonTerminalSessionIsRejected(t *testing.T) {
	store := &fakeTicketStore{}
	adapter := New(store, nil)

	session := models.ExecutionSession{SessionID: "sess-1", Status: models.SessionExecuting}
	err := adapter.Notify(context.Background(), session, nil)
	assert.Error(t, err)
}

func TestNotify_ProviderFailureIsReturned(t *testing.T) {
	store := &fakeTicketStore{}
	provider := &fakeProvider{err: assertProviderErr}
	adapter := New(store, provider)

	session := models.ExecutionSession{SessionID: "sess-1", TicketID: "TCK-1", Status: models.SessionCompleted}
	err := adapter.Notify(context.Background(), session, nil)
	assert.Error(t, err)
	// The local store write still happened even though the vendor call failed.
	assert.Equal(t, models.TicketResolved, store.updates["TCK-1"])
}

var assertProviderErr = context.DeadlineExceeded
