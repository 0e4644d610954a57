// Package mcpadapter wires github.com/modelcontextprotocol/go-sdk/mcp into
// the shape the orchestrator needs: an UnderlyingSession capable of
// CallTool, built over whichever transport an endpoint URL names.
// Grounded on the teacher's internal/client/transport.go, generalized from
// a single agent-toolset connector into a reusable session constructor.
package mcpadapter

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TokenRoundTripper injects a bearer (or custom-header) token into every
// outbound HTTP request, for transports that front an authenticated peer.
type TokenRoundTripper struct {
	Base       http.RoundTripper
	Token      string
	AuthHeader string
}

func (t *TokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		if t.AuthHeader != "" {
			req.Header.Set(t.AuthHeader, t.Token)
		} else {
			req.Header.Set("Authorization", "Bearer "+t.Token)
		}
	}
	if t.Base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.Base.RoundTrip(req)
}

// NewTransport builds an mcp.Transport for endpoint. Supports stdio:// (a
// quoted command line launched as a child process) and http(s):// (an SSE
// transport, optionally bearer-authenticated).
func NewTransport(ctx context.Context, endpoint, token, authHeader string, timeout time.Duration) (mcp.Transport, error) {
	switch {
	case strings.HasPrefix(endpoint, "stdio://"):
		return newStdioTransport(ctx, endpoint, token)
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return newSSETransport(endpoint, token, authHeader, timeout)
	default:
		return nil, fmt.Errorf("mcpadapter: unsupported endpoint scheme: %s", endpoint)
	}
}

func newStdioTransport(ctx context.Context, endpoint, token string) (mcp.Transport, error) {
	cmdLine := strings.TrimPrefix(endpoint, "stdio://")
	parts := splitWithQuotes(cmdLine)
	if len(parts) == 0 {
		return nil, fmt.Errorf("mcpadapter: invalid stdio endpoint: %s", endpoint)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if token != "" {
		cmd.Env = append(cmd.Environ(), "MCP_TOKEN="+token)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func newSSETransport(endpoint, token, authHeader string, timeout time.Duration) (mcp.Transport, error) {
	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		httpClient.Transport = &TokenRoundTripper{
			Base:       http.DefaultTransport,
			Token:      token,
			AuthHeader: authHeader,
		}
	}
	return &mcp.SSEClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}, nil
}

func splitWithQuotes(s string) []string {
	var args []string
	var current []rune
	inQuote := false
	quoteChar := rune(0)

	for _, c := range s {
		if inQuote {
			if c == quoteChar {
				inQuote = false
			} else {
				current = append(current, c)
			}
		} else {
			switch c {
			case '"', '\'':
				inQuote = true
				quoteChar = c
			case ' ', '\t':
				if len(current) > 0 {
					args = append(args, string(current))
					current = nil
				}
			default:
				current = append(current, c)
			}
		}
	}
	if len(current) > 0 {
		args = append(args, string(current))
	}
	return args
}
