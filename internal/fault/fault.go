// Package fault defines the error classification shared by the capture,
// analysis, and session layers. Every failure that can reach the user is
// tagged with one of four kinds; the session controller collapses all of
// them into its Failed state while telemetry keeps the kind.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a scan failure.
type Kind string

const (
	// InvalidInput marks a bad or missing image caught before any remote
	// call. The user can recover by re-selecting or recapturing.
	InvalidInput Kind = "invalid_input"

	// DeviceUnavailable marks a camera permission or hardware failure.
	DeviceUnavailable Kind = "device_unavailable"

	// ServiceUnavailable marks any transport or service failure of the
	// remote analysis call, including timeouts.
	ServiceUnavailable Kind = "service_unavailable"

	// MalformedResponse marks a remote call that succeeded but returned a
	// structurally invalid payload.
	MalformedResponse Kind = "malformed_response"
)

// Error carries a kind alongside a user-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a classified error without a cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// ServiceUnavailable, the catch-all for the remote boundary.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ServiceUnavailable
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// UserMessage returns the human-facing message for an error chain, falling
// back to the raw error text for unclassified errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}
