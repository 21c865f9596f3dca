package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// ConnectionStore is the slice of database.Store the resolver reads. A
// tenant's connection set is small and changes rarely, so the resolver
// matches in memory rather than pushing the scoring logic into SQL.
type ConnectionStore interface {
	ListConnections(ctx context.Context, tenantID string) ([]models.InfrastructureConnection, error)
}

// StoreConnectionResolver implements ConnectionResolver by matching a
// ticket's ci_hint/service/environment against a tenant's registered
// InfrastructureConnections (§3). ci_hint is the most specific signal a
// ticket can carry, so an exact ci_hint match wins outright; otherwise the
// resolver falls back to service+environment, then service alone.
type StoreConnectionResolver struct {
	store ConnectionStore
}

// NewStoreConnectionResolver builds a resolver over the given store.
func NewStoreConnectionResolver(store ConnectionStore) *StoreConnectionResolver {
	return &StoreConnectionResolver{store: store}
}

// ErrNoConnectionMatch is returned when no registered connection matches
// the ticket closely enough to run against.
var ErrNoConnectionMatch = fmt.Errorf("session: no infrastructure connection matches ticket")

func (r *StoreConnectionResolver) Resolve(ctx context.Context, tenantID string, ticket models.Ticket) (models.InfrastructureConnection, error) {
	candidates, err := r.store.ListConnections(ctx, tenantID)
	if err != nil {
		return models.InfrastructureConnection{}, err
	}

	if ticket.CIHint != "" {
		for _, c := range candidates {
			if c.CIHint != "" && strings.EqualFold(c.CIHint, ticket.CIHint) {
				return c, nil
			}
		}
	}

	if best, ok := bestByServiceAndEnvironment(candidates, ticket.Service, ticket.Environment); ok {
		return best, nil
	}

	if best, ok := bestByServiceAndEnvironment(candidates, ticket.Service, ""); ok {
		return best, nil
	}

	return models.InfrastructureConnection{}, ErrNoConnectionMatch
}

// bestByServiceAndEnvironment returns the first connection whose Service
// matches exactly and whose Environment matches (or environment is ""
// to mean "any"). Ties are broken by registration order — the store
// returns connections in a stable order, and the first exact match is as
// good a tie-break as any absent a stronger signal to rank on.
func bestByServiceAndEnvironment(candidates []models.InfrastructureConnection, service, environment string) (models.InfrastructureConnection, bool) {
	if service == "" {
		return models.InfrastructureConnection{}, false
	}
	for _, c := range candidates {
		if !strings.EqualFold(c.Service, service) {
			continue
		}
		if environment != "" && !strings.EqualFold(c.Environment, environment) {
			continue
		}
		return c, true
	}
	return models.InfrastructureConnection{}, false
}
