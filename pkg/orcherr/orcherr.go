// Package orcherr is the error taxonomy shared by every component (§7).
// Errors carry a Kind so callers can branch on errors.As without parsing
// strings, and never carry raw command output or credential material in
// their message.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in §7.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindPolicyDenied       Kind = "policy_denied"
	KindApprovalRejected   Kind = "approval_rejected"
	KindApprovalExpired    Kind = "approval_expired"
	KindTargetBusy         Kind = "target_busy"
	KindCredentialError    Kind = "credential_error"
	KindConnectorTransient Kind = "connector_transient"
	KindConnectorPermanent Kind = "connector_permanent"
	KindTimeout            Kind = "timeout"
	KindWorkerLost         Kind = "worker_lost"
	KindInternal           Kind = "internal_error"
)

// Error is the taxonomy's concrete type. Message must already be sanitized
// by the caller — this type does not redact anything itself (see
// pkg/masking for redaction before an Error is constructed).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, orcherr.New(orcherr.KindTimeout, "")) style checks work
// without comparing messages.
func (e *Error) Is(target error) bool {
	var o *Error
	if !errors.As(target, &o) {
		return false
	}
	return o.Kind == e.Kind
}

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error wrapping cause. The cause's own message
// is preserved via %w-style unwrapping, not interpolated into Message, so
// sanitization applied to Message is not bypassed by an unsanitized cause
// string appearing in logs that only print e.Error() is a risk callers must
// still avoid by sanitizing cause messages themselves before wrapping.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, else returns KindInternal.
func KindOf(err error) Kind {
	var o *Error
	if errors.As(err, &o) {
		return o.Kind
	}
	return KindInternal
}

// Retryable reports whether an error of this kind may ever be retried by
// policy (§7): only connector-transient failures are retryable, and only
// subject to the runbook's own retry policy and blast radius gate.
func Retryable(kind Kind) bool {
	return kind == KindConnectorTransient
}
