package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// MaxTTL is the ceiling named in §4.6: "TTL ≤ 5 minutes".
const MaxTTL = 5 * time.Minute

// Broker is the Credential Broker (§4.6): fetch short-lived credentials
// from the external store, hold them in locked memory, wipe on release. It
// never returns raw material from Fetch — only a Handle whose Use method
// bounds the material's visibility to one call.
type Broker struct {
	store Store

	mu       sync.Mutex
	handles  map[string]*Handle   // handle id -> handle
	byRefID  map[string][]*Handle // credential ref id -> outstanding handles on it
}

// NewBroker creates a Broker that fetches secret material through store.
func NewBroker(store Store) *Broker {
	return &Broker{
		store:   store,
		handles: make(map[string]*Handle),
		byRefID: make(map[string][]*Handle),
	}
}

// Fetch materializes the secret addressed by ref for at most ttl, returning
// a Handle the caller must Release. ttl is clamped down to MaxTTL rather
// than rejected outright when it's unset (zero), but a TTL explicitly
// requested above the ceiling is a caller error.
func (b *Broker) Fetch(ctx context.Context, ref models.CredentialReference, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		ttl = MaxTTL
	}
	if ttl > MaxTTL {
		return nil, fmt.Errorf("%w: requested %s", ErrTTLTooLong, ttl)
	}

	material, err := b.store.FetchSecret(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("credential: fetching %s: %w", ref.ID, err)
	}

	h := &Handle{
		id:        uuid.NewString(),
		ref:       ref,
		material:  material,
		expiresAt: time.Now().Add(ttl),
	}
	if lockErr := lockMemory(material); lockErr != nil {
		slog.Warn("credential material mlock failed, proceeding without swap pin",
			"ref_id", ref.ID, "error", lockErr)
	} else {
		h.locked = true
	}

	b.mu.Lock()
	b.handles[h.id] = h
	b.byRefID[ref.ID] = append(b.byRefID[ref.ID], h)
	b.mu.Unlock()

	slog.Info("credential fetched", "handle_id", h.id, "ref_id", ref.ID, "ref_kind", ref.Kind, "ttl", ttl)
	return h, nil
}

// Release wipes the handle's material and removes its bookkeeping entry.
// Idempotent: releasing an already-released handle is a no-op.
func (b *Broker) Release(h *Handle) {
	if h == nil {
		return
	}
	h.wipe()

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, h.id)
	refHandles := b.byRefID[h.ref.ID]
	for i, candidate := range refHandles {
		if candidate.id == h.id {
			b.byRefID[h.ref.ID] = append(refHandles[:i], refHandles[i+1:]...)
			break
		}
	}
	if len(b.byRefID[h.ref.ID]) == 0 {
		delete(b.byRefID, h.ref.ID)
	}

	slog.Info("credential released", "handle_id", h.id, "ref_id", h.ref.ID)
}

// Rotate invalidates every outstanding handle on refID in response to a
// rotate event from the store. In-flight steps either complete with the
// material they already hold or fail cleanly on their next Use with
// ErrInvalidated (§4.6) — Rotate does not wipe material out from under a
// step that is mid-Use.
func (b *Broker) Rotate(refID string) {
	b.mu.Lock()
	handles := append([]*Handle(nil), b.byRefID[refID]...)
	b.mu.Unlock()

	for _, h := range handles {
		h.invalidate()
	}
	slog.Info("credential rotated", "ref_id", refID, "invalidated_handles", len(handles))
}

// OutstandingCount reports how many handles are currently live, for
// diagnostics and tests — never exposes which credentials they address.
func (b *Broker) OutstandingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}
