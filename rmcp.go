// Package rmcp wraps a Model Context Protocol tool-invocation session with
// at-least-once delivery, exactly-once execution via idempotency, bounded
// retry with exponential backoff, and in-flight request tracking. It is
// transparent middleware: peers that do not negotiate the reliability
// extension observe standard MCP behavior.
package rmcp

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mcp-tx/rmcp-go/internal/types"
)

// toolNamePattern matches the name constraint: [A-Za-z0-9_-]+, length 1..128.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// UnderlyingSession is the narrow capability surface the orchestrator
// drives. internal/mcpadapter.Session and internal/testmcp.Fake both
// satisfy it.
type UnderlyingSession interface {
	CallTool(ctx context.Context, name string, arguments []byte) ([]byte, error)
	Close() error
}

// CapabilityReporter is an optional extension an UnderlyingSession may
// implement to report the peer's negotiated experimental capabilities, as
// read off the MCP initialize handshake's response. Sessions that don't
// implement it are treated as never advertising rmcp support.
type CapabilityReporter interface {
	NegotiatedCapabilities() map[string]any
}

// CallOptions customizes one call_tool invocation; the zero value uses
// configured defaults for everything.
type CallOptions struct {
	IdempotencyKey string
	TimeoutMS      int64
	RetryPolicy    *types.RetryPolicy
}

func validateToolName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("rmcp: invalid tool name %q: must match [A-Za-z0-9_-]{1,128}", name)
	}
	return nil
}

func validateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > types.MaxIdempotencyKeyLen {
		return fmt.Errorf("rmcp: idempotency key too long: %d > %d", len(key), types.MaxIdempotencyKeyLen)
	}
	return nil
}

func validateTimeoutMS(ms int64) error {
	if ms == 0 {
		return nil
	}
	if ms < 1 || ms > 600_000 {
		return fmt.Errorf("rmcp: timeout_ms out of range [1,600000]: %d", ms)
	}
	return nil
}
