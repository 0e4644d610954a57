package mcpadapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// UnderlyingSession is the capability surface the orchestrator drives. It
// is satisfied by *Session below, and by internal/testmcp's fake for
// tests, so the retry engine never depends on the real go-sdk directly.
type UnderlyingSession interface {
	// CallTool sends one attempt: name plus an arguments object that
	// already carries the _meta.rmcp sidecar, and returns the peer's raw
	// JSON result object (also carrying a sidecar, if the peer supports
	// one) for internal/encoder to decode.
	CallTool(ctx context.Context, name string, arguments []byte) ([]byte, error)
	Close() error
}

// Session wraps an *mcp.ClientSession to satisfy UnderlyingSession.
type Session struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// Dial negotiates capabilities and establishes a session against endpoint,
// choosing a transport by URL scheme (see NewTransport).
func Dial(ctx context.Context, implName, implVersion, endpoint, token, authHeader string, dialTimeout time.Duration) (*Session, error) {
	transport, err := NewTransport(ctx, endpoint, token, authHeader, dialTimeout)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    implName,
		Version: implVersion,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}

	return &Session{client: client, session: session}, nil
}

func (s *Session) CallTool(ctx context.Context, name string, arguments []byte) ([]byte, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, err
		}
	}

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}

func (s *Session) Close() error {
	return s.session.Close()
}
