package types

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failure for retry purposes. Mirrors the taxonomy
// in internal/rerr but is duplicated here, as a plain string set, so
// RetryPolicy has no import-cycle dependency on rerr.
type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindTimeout         ErrorKind = "timeout"
	KindNetwork         ErrorKind = "network"
	KindSequence        ErrorKind = "sequence"
	KindPeerNack        ErrorKind = "peer_nack"
	KindCancelled       ErrorKind = "cancelled"
)

// RetryPolicy is an immutable tuple governing one call_tool's retry loop.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	RetryOnTimeout    bool

	// RetryableKinds is the default set of kinds the retry engine treats as
	// retryable in the absence of a more specific classification (PeerNack
	// defers to TransientNackCodes instead). A nil map leaves the decision to
	// each error's own Retryable flag.
	RetryableKinds map[ErrorKind]bool

	// TransientNackCodes lists peer NACK error codes considered transient
	// (and therefore retryable). An unknown code is treated as transient too
	// per spec.md §7; only codes present here with a false value, or present
	// in a caller-supplied non-transient set, are terminal. See
	// NonTransientNackCodes.
	TransientNackCodes map[string]bool

	// NonTransientNackCodes lists peer NACK codes that are always terminal
	// regardless of TransientNackCodes, e.g. "invalid_argument",
	// "unknown_tool", "permission_denied".
	NonTransientNackCodes map[string]bool
}

// DefaultRetryPolicy matches the configuration table in spec.md §6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryOnTimeout:    true,
		RetryableKinds: map[ErrorKind]bool{
			KindNetwork: true,
			KindTimeout: true,
		},
		TransientNackCodes: map[string]bool{
			"unavailable": true,
			"overloaded":  true,
			"try_again":   true,
		},
		NonTransientNackCodes: map[string]bool{
			"invalid_argument":  true,
			"unknown_tool":      true,
			"permission_denied": true,
		},
	}
}

// Validate enforces the ranges from the configuration surface table.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1 || p.MaxAttempts > 100:
		return fmt.Errorf("retry.max_attempts out of range [1,100]: %d", p.MaxAttempts)
	case p.BaseDelay <= 0 || p.BaseDelay > 60*time.Second:
		return fmt.Errorf("retry.base_delay_ms out of range (0,60000]: %v", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("retry.max_delay_ms (%v) must be >= base_delay_ms (%v)", p.MaxDelay, p.BaseDelay)
	case p.BackoffMultiplier < 1.0 || p.BackoffMultiplier > 10.0:
		return fmt.Errorf("retry.backoff_multiplier out of range [1.0,10.0]: %v", p.BackoffMultiplier)
	}
	return nil
}

// IsTransientNackCode reports whether code should be retried. An unknown
// code (absent from both sets) is treated as transient, per spec.md §7.
func (p RetryPolicy) IsTransientNackCode(code string) bool {
	if p.NonTransientNackCodes[code] {
		return false
	}
	if explicit, ok := p.TransientNackCodes[code]; ok {
		return explicit
	}
	return true
}
