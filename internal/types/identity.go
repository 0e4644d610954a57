// Package types holds the data model shared across the reliability
// components: request identity, the wire sidecar, retry policy, and the
// pass-through result. None of these types hold behavior beyond simple
// validation; the components in internal/retry, internal/dedup and
// internal/tracker operate on them.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxIdempotencyKeyLen is the longest idempotency key spec.md accepts.
const MaxIdempotencyKeyLen = 255

// RequestIdentity is immutable once created. ID is a 128-bit value
// string-encoded as a UUID; cryptographic randomness is not required, only
// a negligible collision probability within a session's lifetime.
type RequestIdentity struct {
	ID              string
	IdempotencyKey  string // empty when the caller did not supply one
	ExpectedVersion string // capability version this call was negotiated under
}

// NewRequestIdentity generates a fresh request id. idempotencyKey may be
// empty.
func NewRequestIdentity(idempotencyKey, expectedVersion string) (RequestIdentity, error) {
	if len(idempotencyKey) > MaxIdempotencyKeyLen {
		return RequestIdentity{}, fmt.Errorf("idempotency key too long: %d > %d", len(idempotencyKey), MaxIdempotencyKeyLen)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return RequestIdentity{}, fmt.Errorf("generate request id: %w", err)
	}
	return RequestIdentity{
		ID:              id.String(),
		IdempotencyKey:  idempotencyKey,
		ExpectedVersion: expectedVersion,
	}, nil
}

// HasIdempotencyKey reports whether the caller opted into deduplication.
func (r RequestIdentity) HasIdempotencyKey() bool {
	return r.IdempotencyKey != ""
}

// RedactedKey returns a log-safe rendering of the idempotency key: short
// keys are returned verbatim, long ones are truncated to an 8-character
// prefix with a length suffix so operator logs never reproduce a
// caller-chosen identifier in full.
func RedactedKey(key string) string {
	const prefixLen = 8
	if len(key) <= prefixLen {
		return key
	}
	return fmt.Sprintf("%s…(%d)", key[:prefixLen], len(key))
}
