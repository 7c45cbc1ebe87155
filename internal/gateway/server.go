// ABOUTME: MCP-compatible HTTP server facing the calling agent.
// ABOUTME: Implements Streamable HTTP transport with session management.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fanout-gateway/internal/catalog"
	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/executor"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/intercept"
	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/toolname"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// agentSession tracks an active MCP client session.
type agentSession struct {
	id              string
	protocolVersion string
	unifiedServerID string
	identity        *identity.Identity
	ownerToken      string // bearer token used to verify session ownership on DELETE
	createdAt       time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*agentSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*agentSession)}
}

func (s *sessionStore) create(protocolVersion, unifiedServerID string, id *identity.Identity, ownerToken string) *agentSession {
	sess := &agentSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		unifiedServerID: unifiedServerID,
		identity:        id,
		ownerToken:      ownerToken,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*agentSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Catalog        store.CatalogStore
	Gate           *catalog.Gate
	Executor       *executor.Executor
	Pipeline       *intercept.Pipeline
	Verifier       identity.Verifier
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server implements the MCP Streamable HTTP endpoint the agent talks to.
// Each unified server is addressed by path: /mcp/<unifiedServerID>.
type Server struct {
	catalog        store.CatalogStore
	gate           *catalog.Gate
	executor       *executor.Executor
	pipeline       *intercept.Pipeline
	verifier       identity.Verifier
	requestTimeout time.Duration
	logger         *slog.Logger
	sessions       *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog store is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("catalog gate is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Server{
		catalog:        cfg.Catalog,
		gate:           cfg.Gate,
		executor:       cfg.Executor,
		pipeline:       cfg.Pipeline,
		verifier:       cfg.Verifier,
		requestTimeout: timeout,
		logger:         logger.With("component", "gateway"),
		sessions:       newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE per the
// Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// unifiedServerID extracts the addressed unified server from the URL path.
func unifiedServerID(r *http.Request) string {
	id := strings.TrimPrefix(r.URL.Path, "/mcp/")
	id = strings.TrimRight(id, "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

// handleDelete terminates a session per the Streamable HTTP spec.
// Verifies the caller owns the session to prevent unauthorized termination.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" && bearerToken(r) != sess.ownerToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize)
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	var sess *agentSession
	if !isInitialize {
		// Non-initialize requests require a valid session
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		existing, ok := s.sessions.get(sessionID)
		if !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		// A supported but different version from the one negotiated at
		// initialize is still a protocol error on this session.
		if protoVersion != "" && protoVersion != existing.protocolVersion {
			http.Error(w, "Bad Request: MCP-Protocol-Version does not match session", http.StatusBadRequest)
			return
		}
		sess = existing
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, req)
	case "tools/list":
		s.handleToolsList(w, r, req, sess)
	case "tools/call":
		s.handleToolsCall(w, r, req, sess)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// bearerToken extracts the raw bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// handleInitialize verifies the bearer JWT, binds the session to the
// addressed unified server, and returns the session id header.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	serverID := unifiedServerID(r)
	if serverID == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "missing unified server id in path", nil)
		return
	}

	token := bearerToken(r)
	if token == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "authentication required", nil)
		return
	}

	id, err := s.verifier.Verify(token)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid or expired token", nil)
		return
	}
	id.UserAgent = r.Header.Get("User-Agent")

	srv, err := s.catalog.GetUnifiedServer(r.Context(), serverID)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "unknown unified server", nil)
		return
	}
	if srv.OrganizationID != id.OrganizationID {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "unified server belongs to a different organization", nil)
		return
	}

	sess := s.sessions.create(latestProtocolVersion, serverID, id, token)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"unified_server_id", serverID,
		"user_id", id.UserID,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "fanout-gateway",
			"version": "1.0.0",
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// loadServer fetches the session's unified server and re-checks the
// organization boundary; sessions outlive catalog changes.
func (s *Server) loadServer(ctx context.Context, sess *agentSession) (*store.UnifiedServer, error) {
	srv, err := s.catalog.GetUnifiedServer(ctx, sess.unifiedServerID)
	if err != nil {
		return nil, err
	}
	if srv.OrganizationID != sess.identity.OrganizationID {
		return nil, errors.New("organization mismatch")
	}
	return srv, nil
}

// requestIdentity derives the per-call identity: the session's JWT identity
// overlaid with the unified server's masking policy.
func requestIdentity(sess *agentSession, srv *store.UnifiedServer) *identity.Identity {
	id := *sess.identity
	if srv.MaskingMode == store.MaskingStandard {
		id.MaskingMode = store.MaskingStandard
		if len(srv.PIICategories) > 0 {
			id.PIICategories = srv.PIICategories
		}
	}
	return &id
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sess *agentSession) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	srv, err := s.loadServer(ctx, sess)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "unknown unified server", nil)
		return
	}

	tools, dynamicSearch, err := s.gate.ListTools(ctx, srv)
	if err != nil {
		s.logger.Warn("tools/list failed", "unified_server_id", srv.ID, "error", err)
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "failed to list tools", nil)
		return
	}

	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(tools)),
	}
	for i, tool := range tools {
		schema := tool.InputSchema
		if schema == "" {
			schema = `{"type":"object"}`
		}
		result.Tools[i] = MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: json.RawMessage(schema),
		}
	}

	s.logger.Debug("tools/list",
		"count", len(tools),
		"dynamic_search", dynamicSearch,
	)

	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests, dispatching meta-tools to the
// catalog gate and everything else through the interception pipeline.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sess *agentSession) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	args, err := decodeArguments(params.Arguments)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "arguments must be a JSON object", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	srv, err := s.loadServer(ctx, sess)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "unknown unified server", nil)
		return
	}

	if srv.DynamicSearch && catalog.IsMetaTool(params.Name) {
		s.handleMetaTool(ctx, w, req, sess, srv, params.Name, args)
		return
	}

	s.callTool(ctx, w, req, sess, srv, params.Name, args)
}

// callTool routes one catalog tool call through the pipeline and executor.
// The agent addresses tools by their 2-level listing name; the instance's
// routing id expands it to the full 3-level name.
func (s *Server) callTool(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest, sess *agentSession, srv *store.UnifiedServer, name string, args map[string]any) {
	instanceName, tool, err := toolname.Parse2(name)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	inst, err := s.instanceByName(ctx, srv.ID, instanceName)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}
	fullName := toolname.Build3(inst.ChildServerID, inst.Name, tool)

	id := requestIdentity(sess, srv)
	ctx = identity.WithIdentity(ctx, id)
	ctx, _ = intercept.WithExecution(ctx)

	result, err := s.pipeline.Run(ctx, args, func(ctx context.Context, args map[string]any) (string, error) {
		return s.executor.Execute(ctx, srv.ID, id.OrganizationID, fullName, args, id.UserID)
	})
	if err != nil {
		s.writeToolError(w, req.ID, fullName, err)
		return
	}

	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: result}},
	})
}

// instanceByName resolves an instance by its normalized name within the
// unified server.
func (s *Server) instanceByName(ctx context.Context, unifiedServerID, name string) (*store.ServerInstance, error) {
	instances, err := s.catalog.ListInstances(ctx, unifiedServerID)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if strings.EqualFold(inst.Name, name) {
			return inst, nil
		}
	}
	return nil, store.ErrNotFound
}

// handleMetaTool dispatches the dynamic-search meta-tools.
func (s *Server) handleMetaTool(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest, sess *agentSession, srv *store.UnifiedServer, name string, args map[string]any) {
	switch name {
	case catalog.MetaSearchTools:
		query, _ := args["query"].(string)
		page := 0
		if p, ok := args["page"].(float64); ok {
			page = int(p)
		}
		result, err := s.gate.SearchTools(ctx, srv, query, page)
		if err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "search failed", nil)
			return
		}
		s.sendMetaResult(w, req.ID, result)

	case catalog.MetaDescribeTools:
		var names []string
		if raw, ok := args["names"].([]any); ok {
			for _, n := range raw {
				if str, ok := n.(string); ok {
					names = append(names, str)
				}
			}
		}
		described, err := s.gate.DescribeTools(ctx, srv, names)
		if err != nil {
			s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
				Content: []MCPContent{{Type: "text", Text: err.Error()}},
				IsError: true,
			})
			return
		}
		out := make([]MCPToolInfo, len(described))
		for i, t := range described {
			schema := t.InputSchema
			if schema == "" {
				schema = `{"type":"object"}`
			}
			out[i] = MCPToolInfo{Name: t.Name, Description: t.Description, InputSchema: json.RawMessage(schema)}
		}
		s.sendMetaResult(w, req.ID, out)

	case catalog.MetaExecuteTool:
		innerName, _ := args["name"].(string)
		if innerName == "" {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
			return
		}
		innerArgs, _ := args["arguments"].(map[string]any)
		s.callTool(ctx, w, req, sess, srv, innerName, innerArgs)

	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// sendMetaResult wraps a meta-tool payload as a single text content block.
func (s *Server) sendMetaResult(w http.ResponseWriter, id json.RawMessage, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "failed to encode result", nil)
		return
	}
	s.sendJSONRPCResult(w, id, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(encoded)}},
	})
}

// decodeArguments parses the tools/call arguments into a map. Empty and
// null both mean no arguments.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// writeToolError maps execution failures onto the wire. Authorization
// failures surface as tool results with remediation text; client mistakes
// become JSON-RPC errors; everything else is a generic failure. Raw internal
// detail never reaches the response body.
func (s *Server) writeToolError(w http.ResponseWriter, id json.RawMessage, toolName string, err error) {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"error", err,
	)

	var invalidName *toolname.InvalidToolNameError
	var notFound *executor.ToolNotFoundError
	var mismatch *executor.OrganizationMismatchError
	var deleted *executor.ServerDeletedError
	var oauth *credentials.OAuthRequiredError
	var reauth *credentials.ReAuthRequiredError

	switch {
	case errors.As(err, &invalidName), errors.As(err, &notFound):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "tool not found", nil)
	case errors.As(err, &mismatch):
		s.sendJSONRPCError(w, id, JSONRPCInvalidRequest, "unified server belongs to a different organization", nil)
	case errors.As(err, &deleted):
		s.sendJSONRPCError(w, id, JSONRPCInvalidRequest, "server has been deleted", nil)
	case errors.As(err, &oauth):
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: oauth.Error()}},
			IsError: true,
		})
	case errors.As(err, &reauth):
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: reauth.Error()}},
			IsError: true,
		})
	case errors.Is(err, context.DeadlineExceeded):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution timed out", nil)
	case errors.Is(err, context.Canceled):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled", nil)
	default:
		// Provider-reported tool failures carry the provider's message.
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
