// ABOUTME: Child-server transport construction over mark3labs/mcp-go
// ABOUTME: Builds stdio, SSE, and streamable-HTTP client sessions from templates

package connector

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/fanout-gateway/internal/store"
)

// Config describes how to reach one child server for one request.
// Headers carry the resolved per-user credentials for HTTP transports;
// Env carries KEY=VALUE pairs for stdio child processes.
type Config struct {
	Kind    store.TransportKind
	Command string
	Args    []string
	Env     []string
	URL     string
	Headers map[string]string
}

// ConfigFromTemplate builds a transport config from a stored template plus
// the request's resolved credential headers and environment variables.
func ConfigFromTemplate(tpl *store.ServerTemplate, headers map[string]string, env []string) Config {
	return Config{
		Kind:    tpl.Transport,
		Command: tpl.Command,
		Args:    tpl.Args,
		Env:     env,
		URL:     tpl.URL,
		Headers: headers,
	}
}

// Session is an unconnected child-server client. Connect performs the
// transport start and protocol initialize handshake; everything after a
// failed Connect must go through Close.
type Session interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer constructs sessions from transport configs. A Dial error means the
// transport itself could not be built (bad command, bad URL) and is never
// retried.
type Dialer interface {
	Dial(cfg Config) (Session, error)
}

// MCPDialer is the production Dialer backed by mark3labs/mcp-go.
type MCPDialer struct {
	// ClientName/ClientVersion identify the gateway in the MCP handshake.
	ClientName    string
	ClientVersion string
}

// Dial builds an mcp-go client for the configured transport kind.
func (d *MCPDialer) Dial(cfg Config) (Session, error) {
	switch cfg.Kind {
	case store.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		c, err := mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("building stdio transport: %w", err)
		}
		return &mcpSession{client: c, dialer: d}, nil

	case store.TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires a url")
		}
		c, err := mcpclient.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("building sse transport: %w", err)
		}
		return &mcpSession{client: c, dialer: d, needsStart: true}, nil

	case store.TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("streamable-http transport requires a url")
		}
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("building streamable-http transport: %w", err)
		}
		return &mcpSession{client: c, dialer: d, needsStart: true}, nil

	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}

// mcpSession adapts an mcp-go client to the Session interface.
type mcpSession struct {
	client     *mcpclient.Client
	dialer     *MCPDialer
	needsStart bool
}

func (s *mcpSession) Connect(ctx context.Context) error {
	if s.needsStart {
		if err := s.client.Start(ctx); err != nil {
			return fmt.Errorf("starting transport: %w", err)
		}
	}

	name := s.dialer.ClientName
	if name == "" {
		name = "fanout-gateway"
	}
	version := s.dialer.ClientVersion
	if version == "" {
		version = "dev"
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: name, Version: version}

	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}
	return nil
}

func (s *mcpSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.client.CallTool(ctx, req)
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}
