// Package rerr defines the typed error taxonomy of spec.md §7: six kinds,
// each either always-terminal or classified retryable by the retry engine.
// Generalizes the teacher's single internal/types.RetryableError wrapper
// into the full set the spec requires.
package rerr

import (
	"errors"
	"fmt"

	"github.com/mcp-tx/rmcp-go/internal/types"
)

// Kind enumerates the error taxonomy from spec.md §7.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindTimeout         Kind = "timeout"
	KindNetwork         Kind = "network"
	KindSequence        Kind = "sequence"
	KindPeerNack        Kind = "peer_nack"
	KindCancelled       Kind = "cancelled"
)

// Error is the typed failure surfaced to callers on terminal failure.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Details   map[string]any
	Cause     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a terminal Error of the given kind.
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Retryable marks the error as retryable (used internally by the retry
// engine when deciding whether to absorb a failure and try again).
func Retryable(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Retryable: true, Cause: cause}
}

// InvalidArgument is always terminal.
func InvalidArgument(message string, cause error) *Error {
	return New(KindInvalidArgument, "invalid_argument", message, cause)
}

// Cancelled is always terminal.
func Cancelled(cause error) *Error {
	return New(KindCancelled, "cancelled", "call cancelled", cause)
}

// Sequence is always terminal — malformed/missing sidecar, ack/processed
// incoherence, duplicate-ack anomalies.
func Sequence(message string, cause error) *Error {
	return New(KindSequence, "sequence", message, cause)
}

// Timeout is retryable only when retryOnTimeout is true.
func Timeout(message string, cause error, retryOnTimeout bool) *Error {
	e := New(KindTimeout, "timeout", message, cause)
	e.Retryable = retryOnTimeout
	return e
}

// Network is always retryable.
func Network(message string, cause error) *Error {
	return Retryable(KindNetwork, "network", message, cause)
}

// PeerNack wraps a peer-reported NACK; transient is decided by the caller
// against the active RetryPolicy's transient-code table.
func PeerNack(code, message string, transient bool) *Error {
	e := New(KindPeerNack, code, message, nil)
	e.Retryable = transient
	return e
}

// As is a thin errors.As wrapper for extracting *Error from a wrapped chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ToPolicyKind maps a Kind onto the plain-string set types.RetryPolicy
// uses, avoiding an import cycle between rerr and types.
func (k Kind) ToPolicyKind() types.ErrorKind {
	return types.ErrorKind(k)
}
