package credential

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/orchestrator/pkg/models"
)

// Handle is a live, time-boxed grip on one secret's material. It is handed
// to exactly one connector invocation for the span of one step; nothing
// else may read Material concurrently (§4.6: "fetch(ref, ttl) -> handle").
//
// A Handle is deliberately NOT safe to copy — copying would duplicate the
// byte slice header but not its zeroing guarantee. Callers must pass *Handle.
type Handle struct {
	mu        sync.Mutex
	id        string
	ref       models.CredentialReference
	material  []byte
	expiresAt time.Time
	invalid   bool
	wiped     bool
	locked    bool
}

// ID identifies this handle for audit logging (never the material itself).
func (h *Handle) ID() string { return h.id }

// Reference returns the CredentialReference this handle materializes.
func (h *Handle) Reference() models.CredentialReference { return h.ref }

// Use runs fn with the live secret material, rejecting the call if the
// handle has expired, been invalidated by rotation, or already been wiped.
// This is the only way to read Material — there is no getter, so a caller
// cannot accidentally retain a reference past the handle's lifetime.
func (h *Handle) Use(fn func(material []byte) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.wiped {
		return ErrWiped
	}
	if h.invalid {
		return ErrInvalidated
	}
	if time.Now().After(h.expiresAt) {
		return ErrExpired
	}

	return fn(h.material)
}

// invalidate marks the handle unusable without touching its material; used
// by Broker.Rotate so an in-flight Use either completes with the current
// material or the NEXT Use fails cleanly with ErrInvalidated (§4.6).
func (h *Handle) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalid = true
}

// wipe overwrites material with zeros and releases any page lock. Safe to
// call more than once.
func (h *Handle) wipe() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wiped {
		return
	}
	for i := range h.material {
		h.material[i] = 0
	}
	if h.locked {
		if err := unlockMemory(h.material); err != nil {
			slog.Warn("credential handle munlock failed", "handle_id", h.id, "error", err)
		}
	}
	h.material = nil
	h.wiped = true
}
