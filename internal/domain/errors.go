package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the core can return.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindAuthentication     ErrorKind = "authentication"
	KindAuthorization      ErrorKind = "authorization"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindStorageTimeout     ErrorKind = "storage_timeout"
)

// Reason codes are machine readable and end up in audit entries and API responses.
const (
	ReasonInvalidInput          = "invalid_input"
	ReasonInvalidCredentials    = "invalid_credentials"
	ReasonClientInactive        = "client_inactive"
	ReasonTokenMissing          = "token_missing"
	ReasonTokenExpired          = "token_expired"
	ReasonTokenRevoked          = "token_revoked"
	ReasonTokenUnknown          = "token_unknown"
	ReasonInsufficientPrivilege = "insufficient_privilege"
	ReasonUnknownDevice         = "unknown_device"
	ReasonClientNotFound        = "client_not_found"
	ReasonSessionNotFound       = "session_not_found"
	ReasonEmailTaken            = "email_taken"
	ReasonFingerprintConflict   = "fingerprint_owned_by_other_client"
	ReasonStorageUnavailable    = "storage_unavailable"
	ReasonStorageTimeout        = "storage_timeout"
)

type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and reason so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Reason == "" || e.Reason == t.Reason)
}

func newSentinel(kind ErrorKind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: msg}
}

var (
	ErrInvalidCredentials  = newSentinel(KindAuthentication, ReasonInvalidCredentials, "invalid credentials")
	ErrClientInactive      = newSentinel(KindAuthentication, ReasonClientInactive, "client is inactive")
	ErrTokenMissing        = newSentinel(KindAuthentication, ReasonTokenMissing, "missing session token")
	ErrTokenExpired        = newSentinel(KindAuthentication, ReasonTokenExpired, "session token expired")
	ErrTokenRevoked        = newSentinel(KindAuthentication, ReasonTokenRevoked, "session token revoked")
	ErrTokenUnknown        = newSentinel(KindAuthentication, ReasonTokenUnknown, "session token unknown")
	ErrForbidden           = newSentinel(KindAuthorization, ReasonInsufficientPrivilege, "insufficient privilege")
	ErrUnknownDevice       = newSentinel(KindNotFound, ReasonUnknownDevice, "unknown device")
	ErrClientNotFound      = newSentinel(KindNotFound, ReasonClientNotFound, "client not found")
	ErrSessionNotFound     = newSentinel(KindNotFound, ReasonSessionNotFound, "session not found")
	ErrEmailTaken          = newSentinel(KindConflict, ReasonEmailTaken, "email already registered")
	ErrFingerprintConflict = newSentinel(KindConflict, ReasonFingerprintConflict, "device fingerprint belongs to another client")
	ErrStorageUnavailable  = newSentinel(KindStorageUnavailable, ReasonStorageUnavailable, "storage unavailable")
	ErrStorageTimeout      = newSentinel(KindStorageTimeout, ReasonStorageTimeout, "storage timeout")

	// ErrValidation matches any validation error regardless of reason.
	ErrValidation = newSentinel(KindValidation, "", "validation failed")
)

func Validation(reason, msg string) *Error {
	if reason == "" {
		reason = ReasonInvalidInput
	}
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

func StorageUnavailable(err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Reason: ReasonStorageUnavailable, Message: "storage unavailable", Err: err}
}

func StorageTimeout(err error) *Error {
	return &Error{Kind: KindStorageTimeout, Reason: ReasonStorageTimeout, Message: "storage timeout", Err: err}
}

// KindOf returns the taxonomy kind of err. Unclassified errors are treated as storage faults.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorageUnavailable
}

// ReasonOf returns the reason code carried by err.
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	return ReasonStorageUnavailable
}

func IsStorageFault(err error) bool {
	k := KindOf(err)
	return k == KindStorageUnavailable || k == KindStorageTimeout
}
