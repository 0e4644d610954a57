// Package testmcp provides a scriptable fake of mcpadapter.UnderlyingSession
// for exercising the retry engine, dedup cache, and orchestrator without a
// live MCP peer.
package testmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Response is one scripted reply: either a raw JSON result or an error.
type Response struct {
	Result []byte
	Err    error
}

// Fake is a scriptable UnderlyingSession. Responses are consumed in order
// per tool name; when the script is exhausted, the last entry repeats.
type Fake struct {
	mu           sync.Mutex
	scripts      map[string][]Response
	cursor       map[string]int
	callCount    int64
	calls        []CallRecord
	closed       bool
	capabilities map[string]any
}

// CallRecord captures one observed CallTool invocation for assertions.
type CallRecord struct {
	Name      string
	Arguments []byte
}

// NewFake returns an empty Fake; use Script to queue responses per tool.
func NewFake() *Fake {
	return &Fake{
		scripts: make(map[string][]Response),
		cursor:  make(map[string]int),
	}
}

// Script queues responses for calls to name, consumed in order.
func (f *Fake) Script(name string, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = append(f.scripts[name], responses...)
}

// ScriptJSON is a convenience wrapper that marshals payload as the result.
func ScriptJSON(payload any) Response {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Response{Result: b}
}

func (f *Fake) CallTool(ctx context.Context, name string, arguments []byte) ([]byte, error) {
	atomic.AddInt64(&f.callCount, 1)

	f.mu.Lock()
	f.calls = append(f.calls, CallRecord{Name: name, Arguments: append([]byte(nil), arguments...)})
	script := f.scripts[name]
	idx := f.cursor[name]
	if len(script) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("testmcp: no script for tool %q", name)
	}
	if idx < len(script)-1 {
		f.cursor[name] = idx + 1
	}
	resp := script[idx]
	f.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// CallCount returns the total number of CallTool invocations observed.
func (f *Fake) CallCount() int64 { return atomic.LoadInt64(&f.callCount) }

// Calls returns a copy of every CallTool invocation observed, in order.
func (f *Fake) Calls() []CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CallRecord, len(f.calls))
	copy(out, f.calls)
	return out
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetNegotiatedCapabilities configures what NegotiatedCapabilities reports,
// simulating a peer that does or doesn't advertise rmcp support.
func (f *Fake) SetNegotiatedCapabilities(caps map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capabilities = caps
}

// NegotiatedCapabilities implements rmcp.CapabilityReporter.
func (f *Fake) NegotiatedCapabilities() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capabilities
}
