package credential

import "errors"

var (
	// ErrNotFound is returned when the external store has no secret for a
	// given CredentialReference.
	ErrNotFound = errors.New("credential: reference not found in secrets store")

	// ErrInvalidated is returned when a handle is used after its
	// CredentialReference was rotated out from under it (§4.6).
	ErrInvalidated = errors.New("credential: handle invalidated by rotation")

	// ErrExpired is returned when a handle is used past its TTL.
	ErrExpired = errors.New("credential: handle ttl expired")

	// ErrTTLTooLong is returned when Fetch is called with a ttl exceeding
	// the system-wide credential TTL ceiling (§4.6: "TTL ≤ 5 minutes").
	ErrTTLTooLong = errors.New("credential: requested ttl exceeds the 5 minute ceiling")

	// ErrWiped is returned when a handle's material is accessed after
	// Release has already zeroed it.
	ErrWiped = errors.New("credential: handle already wiped")
)
