// ABOUTME: HTTP-level tests for the agent-facing MCP endpoint
// ABOUTME: Covers sessions, auth, tool listing/calls, and meta-tool dispatch

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fanout-gateway/internal/catalog"
	"github.com/2389/fanout-gateway/internal/connector"
	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/executor"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/intercept"
	"github.com/2389/fanout-gateway/internal/store"
)

var testSecret = []byte("test-secret")

type gwSession struct {
	callResult *mcp.CallToolResult
}

func (s *gwSession) Connect(ctx context.Context) error { return nil }

func (s *gwSession) ListTools(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }

func (s *gwSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return s.callResult, nil
}

func (s *gwSession) Close() error { return nil }

type gwDialer struct{ session *gwSession }

func (d *gwDialer) Dial(cfg connector.Config) (connector.Session, error) {
	// Mimics a provider refusing a revoked stored credential.
	if cfg.Headers["Authorization"] == "Bearer revoked-token" {
		return nil, errors.New("request failed: 401 Unauthorized")
	}
	return d.session, nil
}

func newTestServer(t *testing.T, dynamicSearch bool) (*Server, *store.MockStore) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMockStore()

	require.NoError(t, m.CreateUnifiedServer(ctx, &store.UnifiedServer{
		ID: "srv-1", Name: "dev", OrganizationID: "org-A", DynamicSearch: dynamicSearch,
	}))
	require.NoError(t, m.CreateTemplate(ctx, &store.ServerTemplate{
		ID: "tpl-1", Transport: store.TransportStdio, Command: "mcp-github",
		DeclaredTools: []string{"create_issue", "list_issues"},
	}))
	require.NoError(t, m.CreateInstance(ctx, &store.ServerInstance{
		ID: "inst-1", UnifiedServerID: "srv-1", ChildServerID: "server-1",
		Name: "github", AuthKind: store.AuthNone, OrganizationID: "org-A", TemplateID: "tpl-1",
	}))
	m.SetInstanceTools("inst-1", []*store.ToolCatalogEntry{
		{InstanceID: "inst-1", Name: "create_issue", Description: "Create a GitHub issue", InputSchema: `{"type":"object"}`},
		{InstanceID: "inst-1", Name: "list_issues", Description: "List GitHub issues", InputSchema: `{"type":"object"}`},
	})

	dialer := &gwDialer{session: &gwSession{callResult: mcp.NewToolResultText("done")}}
	conn := connector.New(dialer, connector.NewPool(), 1, 0, slog.Default())
	creds := credentials.NewProvider(m, m, nil)
	exec := executor.New(m, creds, conn, slog.Default())
	gate := catalog.NewGate(m, catalog.BuiltinMetaProvider{}, slog.Default())
	pipeline := intercept.NewPipeline(nil, m, nil, slog.Default())

	srv, err := NewServer(ServerConfig{
		Catalog:        m,
		Gate:           gate,
		Executor:       exec,
		Pipeline:       pipeline,
		Verifier:       identity.NewJWTVerifier(testSecret),
		RequestTimeout: 5 * time.Second,
		Logger:         slog.Default(),
	})
	require.NoError(t, err)
	return srv, m
}

func agentToken(t *testing.T, org string) string {
	t.Helper()
	token, err := identity.NewJWTVerifier(testSecret).Generate(&identity.Identity{
		UserID: "user-1", OrganizationID: org,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func rpcRequest(t *testing.T, method string, params any) []byte {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func doRPC(srv *Server, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp/srv-1", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	return rec
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) *JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

// initSession performs the initialize handshake and returns the session id.
func initSession(t *testing.T, srv *Server, token string) string {
	t.Helper()
	rec := doRPC(srv, rpcRequest(t, "initialize", nil), map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)
	sessionID := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	return sessionID
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t, false)
	token := agentToken(t, "org-A")

	rec := doRPC(srv, rpcRequest(t, "initialize", nil), map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))

	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
}

func TestInitialize_AuthFailures(t *testing.T) {
	srv, _ := newTestServer(t, false)

	t.Run("no token", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "initialize", nil), nil)
		resp := decodeRPC(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "authentication required", resp.Error.Message)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "initialize", nil), map[string]string{
			"Authorization": "Bearer not-a-jwt",
		})
		resp := decodeRPC(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "invalid or expired token", resp.Error.Message)
	})

	t.Run("wrong organization", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "initialize", nil), map[string]string{
			"Authorization": "Bearer " + agentToken(t, "org-B"),
		})
		resp := decodeRPC(t, rec)
		require.NotNil(t, resp.Error)
		assert.Contains(t, resp.Error.Message, "different organization")
	})
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t, false)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	rec := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
		"Mcp-Session-Id": sessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)

	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPListToolsResult
	require.NoError(t, json.Unmarshal(encoded, &result))

	require.Len(t, result.Tools, 2)
	assert.Equal(t, "github__create_issue", result.Tools[0].Name)
	assert.Equal(t, "github__list_issues", result.Tools[1].Name)
}

func TestToolsList_DynamicSearch(t *testing.T) {
	srv, _ := newTestServer(t, true)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	rec := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
		"Mcp-Session-Id": sessionID,
	})
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)

	encoded, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	require.NoError(t, json.Unmarshal(encoded, &result))

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{catalog.MetaSearchTools, catalog.MetaDescribeTools, catalog.MetaExecuteTool}, names)
}

func TestToolsCall(t *testing.T) {
	srv, m := newTestServer(t, false)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{
		"name":      "github__create_issue",
		"arguments": map[string]any{"title": "hello"},
	}), map[string]string{"Mcp-Session-Id": sessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)

	encoded, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(encoded, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "done", result.Content[0].Text)
	assert.False(t, result.IsError)

	// The call produced a durable log row.
	srv.pipeline.Flush()
	rows := m.RequestLogs()
	require.Len(t, rows, 1)
	assert.Equal(t, "server-1__github__create_issue", rows[0].ToolName)
	assert.Equal(t, "org-A", rows[0].OrganizationID)
}

func TestToolsCall_RejectedTokenSignalsReAuth(t *testing.T) {
	srv, m := newTestServer(t, false)
	ctx := context.Background()
	require.NoError(t, m.CreateInstance(ctx, &store.ServerInstance{
		ID: "inst-2", UnifiedServerID: "srv-1", ChildServerID: "server-2",
		Name: "jira", AuthKind: store.AuthOAuth, OrganizationID: "org-A", TemplateID: "tpl-1",
	}))
	require.NoError(t, m.CreateTokens(ctx, []*store.OAuthToken{{
		ID: "tok-1", UserID: "user-1", OrgID: "org-A", InstanceID: "inst-2", AccessToken: "revoked-token",
	}}))
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{
		"name": "jira__create_issue",
	}), map[string]string{"Mcp-Session-Id": sessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)

	// The rejection surfaces as a tool-level error naming the instance the
	// agent must re-authorize, not as a generic transport failure.
	encoded, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(encoded, &result))
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "re-authorization required")
	assert.Contains(t, result.Content[0].Text, "inst-2")
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv, _ := newTestServer(t, false)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	for _, name := range []string{"nope__missing", "unnamespaced", "github__not_declared"} {
		rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{"name": name}), map[string]string{
			"Mcp-Session-Id": sessionID,
		})
		resp := decodeRPC(t, rec)
		require.NotNil(t, resp.Error, "tool %q should not resolve", name)
		assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
	}
}

func TestToolsCall_MetaTools(t *testing.T) {
	srv, _ := newTestServer(t, true)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))
	headers := map[string]string{"Mcp-Session-Id": sessionID}

	t.Run("search_tools", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{
			"name":      catalog.MetaSearchTools,
			"arguments": map[string]any{"query": "issue"},
		}), headers)
		resp := decodeRPC(t, rec)
		require.Nil(t, resp.Error)

		encoded, _ := json.Marshal(resp.Result)
		var result MCPCallToolResult
		require.NoError(t, json.Unmarshal(encoded, &result))
		var page catalog.SearchPage
		require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &page))
		assert.Equal(t, 2, page.TotalHit)
	})

	t.Run("describe_tools", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{
			"name":      catalog.MetaDescribeTools,
			"arguments": map[string]any{"names": []string{"github__create_issue"}},
		}), headers)
		resp := decodeRPC(t, rec)
		require.Nil(t, resp.Error)
	})

	t.Run("execute_tool", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "tools/call", map[string]any{
			"name": catalog.MetaExecuteTool,
			"arguments": map[string]any{
				"name":      "github__create_issue",
				"arguments": map[string]any{"title": "hello"},
			},
		}), headers)
		resp := decodeRPC(t, rec)
		require.Nil(t, resp.Error)

		encoded, _ := json.Marshal(resp.Result)
		var result MCPCallToolResult
		require.NoError(t, json.Unmarshal(encoded, &result))
		assert.Equal(t, "done", result.Content[0].Text)
	})
}

func TestSessionValidation(t *testing.T) {
	srv, _ := newTestServer(t, false)

	t.Run("missing session id", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "tools/list", nil), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown session id", func(t *testing.T) {
		rec := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
			"Mcp-Session-Id": "bogus",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unsupported protocol version", func(t *testing.T) {
		sessionID := initSession(t, srv, agentToken(t, "org-A"))
		rec := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
			"Mcp-Session-Id":       sessionID,
			"Mcp-Protocol-Version": "1999-01-01",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("version differs from session", func(t *testing.T) {
		// "2025-03-26" is supported, but this session negotiated the
		// latest version at initialize.
		sessionID := initSession(t, srv, agentToken(t, "org-A"))
		rec := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
			"Mcp-Session-Id":       sessionID,
			"Mcp-Protocol-Version": "2025-03-26",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionTermination(t *testing.T) {
	srv, _ := newTestServer(t, false)
	token := agentToken(t, "org-A")
	sessionID := initSession(t, srv, token)

	t.Run("wrong owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/mcp/srv-1", nil)
		req.Header.Set("Mcp-Session-Id", sessionID)
		req.Header.Set("Authorization", "Bearer "+agentToken(t, "org-B"))
		rec := httptest.NewRecorder()
		srv.handleMCP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/mcp/srv-1", nil)
		req.Header.Set("Mcp-Session-Id", sessionID)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.handleMCP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		// Session is gone; subsequent requests must re-initialize.
		rec2 := doRPC(srv, rpcRequest(t, "tools/list", nil), map[string]string{
			"Mcp-Session-Id": sessionID,
		})
		assert.Equal(t, http.StatusNotFound, rec2.Code)
	})
}

func TestNotificationsAccepted(t *testing.T) {
	srv, _ := newTestServer(t, false)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	require.NoError(t, err)
	rec := doRPC(srv, body, map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRequestBodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, false)

	huge := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":"` +
		strings.Repeat("x", MaxRequestBodySize) + `"}}`
	rec := doRPC(srv, []byte(huge), nil)
	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "request body too large", resp.Error.Message)
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t, false)
	sessionID := initSession(t, srv, agentToken(t, "org-A"))

	rec := doRPC(srv, rpcRequest(t, "resources/list", nil), map[string]string{
		"Mcp-Session-Id": sessionID,
	})
	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
}

func TestGetNotSupported(t *testing.T) {
	srv, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/mcp/srv-1", nil)
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
