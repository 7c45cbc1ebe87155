// ABOUTME: Unified tool execution: resolve, authorize, connect, call, close
// ABOUTME: Enforces the org/deleted/declared-tool checks on every single call

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/fanout-gateway/internal/connector"
	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/intercept"
	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/toolname"
)

// Error codes recorded into the execution context for the log row.
const (
	CodeInvalidToolName      = "INVALID_TOOL_NAME"
	CodeOrganizationMismatch = "ORGANIZATION_MISMATCH"
	CodeServerDeleted        = "SERVER_DELETED"
	CodeToolNotFound         = "TOOL_NOT_FOUND"
	CodeOAuthRequired        = "OAUTH_REQUIRED"
	CodeReAuthRequired       = "REAUTH_REQUIRED"
	CodeMCPError             = "MCP_ERROR"
	CodeUnknownError         = "UNKNOWN_ERROR"
)

// unknownErrorMessage is the fixed message recorded when a failure carries
// no recognizable detail; arbitrary values are never serialized into logs.
const unknownErrorMessage = "Unknown error"

// OrganizationMismatchError indicates the caller's organization does not
// own the addressed instance. Instances are loaded by id alone, so this
// check is a security boundary enforced on every call.
type OrganizationMismatchError struct {
	CallerOrgID string
	ServerOrgID string
}

func (e *OrganizationMismatchError) Error() string {
	return fmt.Sprintf("organization mismatch: caller %s does not own server organization %s", e.CallerOrgID, e.ServerOrgID)
}

// ServerDeletedError indicates the parent unified server has been soft
// deleted, which disables all of its instances.
type ServerDeletedError struct {
	UnifiedServerID string
}

func (e *ServerDeletedError) Error() string {
	return fmt.Sprintf("server %s has been deleted", e.UnifiedServerID)
}

// ToolNotFoundError indicates the requested tool is not in the template's
// declared tool list.
type ToolNotFoundError struct {
	FullToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %s not found", e.FullToolName)
}

// Executor routes one tool call to its child server, enforcing the
// authorization checks and credential resolution along the way.
type Executor struct {
	catalog     store.CatalogStore
	credentials *credentials.Provider
	connector   *connector.Connector
	logger      *slog.Logger
}

// New creates an executor over the catalog store, credential provider, and
// connector.
func New(catalog store.CatalogStore, creds *credentials.Provider, conn *connector.Connector, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		catalog:     catalog,
		credentials: creds,
		connector:   conn,
		logger:      logger.With("component", "executor"),
	}
}

// Execute resolves a 3-level tool name and performs the call.
//
// The sequence is fixed: parse name, load instance with parent and
// template, organization check, soft-delete check, declared-tool check,
// resolve credentials, connect, call, always close. A ReAuthRequiredError
// from any step is re-thrown unchanged; every other failure is wrapped
// once, naming the tool, after its diagnostic fields are recorded into the
// execution context.
func (e *Executor) Execute(ctx context.Context, unifiedServerID, orgID, fullToolName string, args map[string]any, userID string) (string, error) {
	ec := intercept.ExecutionFromContext(ctx)

	parsed, err := toolname.Parse3(fullToolName)
	if err != nil {
		recordFailure(ec, 400, CodeInvalidToolName, err.Error())
		return "", err
	}

	detail, err := e.catalog.GetInstanceDetail(ctx, parsed.ChildServerID, parsed.InstanceName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound := &ToolNotFoundError{FullToolName: fullToolName}
			recordFailure(ec, 404, CodeToolNotFound, notFound.Error())
			return "", notFound
		}
		recordFailure(ec, 500, CodeUnknownError, unknownErrorMessage)
		return "", fmt.Errorf("executing tool %s: %w", fullToolName, err)
	}

	if ec != nil {
		ec.ToolName = fullToolName
		ec.InstanceID = detail.Instance.ID
		ec.ChildServerID = detail.Instance.ChildServerID
		ec.Transport = string(detail.Template.Transport)
	}
	if id := identity.FromContext(ctx); id != nil {
		id.ChildServerID = detail.Instance.ChildServerID
	}

	if detail.Server.OrganizationID != orgID {
		mismatch := &OrganizationMismatchError{CallerOrgID: orgID, ServerOrgID: detail.Server.OrganizationID}
		recordFailure(ec, 403, CodeOrganizationMismatch, mismatch.Error())
		return "", mismatch
	}

	if detail.Server.Deleted {
		deleted := &ServerDeletedError{UnifiedServerID: detail.Server.ID}
		recordFailure(ec, 410, CodeServerDeleted, deleted.Error())
		return "", deleted
	}

	if !toolDeclared(detail.Template.DeclaredTools, parsed.ToolName) {
		notFound := &ToolNotFoundError{FullToolName: fullToolName}
		recordFailure(ec, 404, CodeToolNotFound, notFound.Error())
		return "", notFound
	}

	headers, err := e.credentials.ResolveHeaders(ctx, detail.Instance.ID, userID, orgID, detail.Instance.AuthKind)
	if err != nil {
		return "", e.credentialFailure(ec, fullToolName, err)
	}

	var env []string
	if detail.Template.Transport == store.TransportStdio {
		env = e.credentials.ResolveEnv(ctx, detail.Instance.ID, userID, orgID)
	}

	cfg := connector.ConfigFromTemplate(detail.Template, headers, env)
	conn, err := e.connector.Connect(ctx, cfg)
	if err != nil {
		if reauth := e.authRejection(ctx, detail, userID, err); reauth != nil {
			recordFailure(ec, 401, CodeReAuthRequired, reauth.Error())
			return "", reauth
		}
		recordFailure(ec, 502, CodeMCPError, err.Error())
		return "", fmt.Errorf("executing tool %s: %w", fullToolName, err)
	}
	defer conn.Close()

	result, err := conn.Session.CallTool(ctx, parsed.ToolName, args)
	if err != nil {
		var reauth *credentials.ReAuthRequiredError
		if errors.As(err, &reauth) {
			recordFailure(ec, 401, CodeReAuthRequired, reauth.Error())
			return "", reauth
		}
		if reauth := e.authRejection(ctx, detail, userID, err); reauth != nil {
			recordFailure(ec, 401, CodeReAuthRequired, reauth.Error())
			return "", reauth
		}
		recordFailure(ec, 502, CodeMCPError, errorMessage(err))
		return "", fmt.Errorf("executing tool %s: %w", fullToolName, err)
	}

	text := resultText(result)
	if result.IsError {
		// The child server reported a tool-level failure; its own message
		// is surfaced to the caller.
		msg := text
		code := CodeMCPError
		if msg == "" {
			msg = unknownErrorMessage
			code = CodeUnknownError
		}
		recordFailure(ec, 500, code, msg)
		return "", fmt.Errorf("executing tool %s: %s", fullToolName, msg)
	}

	if ec != nil {
		ec.ResponseStatus = 200
	}
	return text, nil
}

// credentialFailure classifies a ResolveHeaders error. The two
// authorization variants are returned as-is so their identifiers survive to
// the agent; anything else is wrapped naming the tool.
func (e *Executor) credentialFailure(ec *intercept.ExecutionContext, fullToolName string, err error) error {
	var oauth *credentials.OAuthRequiredError
	if errors.As(err, &oauth) {
		recordFailure(ec, 401, CodeOAuthRequired, oauth.Error())
		return oauth
	}
	var reauth *credentials.ReAuthRequiredError
	if errors.As(err, &reauth) {
		recordFailure(ec, 401, CodeReAuthRequired, reauth.Error())
		return reauth
	}
	recordFailure(ec, 500, CodeUnknownError, unknownErrorMessage)
	return fmt.Errorf("executing tool %s: %w", fullToolName, err)
}

// authRejection classifies a transport failure on an oauth instance as a
// rejected stored credential. The token id is attached so the out-of-band
// re-authorization flow can target the exact row that was refused.
func (e *Executor) authRejection(ctx context.Context, detail *store.InstanceDetail, userID string, err error) *credentials.ReAuthRequiredError {
	if detail.Instance.AuthKind != store.AuthOAuth || !isAuthRejection(err) {
		return nil
	}
	return e.credentials.RejectedCredential(ctx, detail.Instance.ID, userID)
}

// isAuthRejection reports whether a transport error is a provider-side
// credential rejection rather than a connectivity failure.
func isAuthRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}

// toolDeclared matches case-insensitively: call-path names are lowercased
// at parse time while declared tool lists keep the template's casing.
func toolDeclared(declared []string, tool string) bool {
	for _, d := range declared {
		if strings.EqualFold(d, tool) {
			return true
		}
	}
	return false
}

// resultText flattens a call result's text content blocks.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return unknownErrorMessage
	}
	return err.Error()
}

func recordFailure(ec *intercept.ExecutionContext, status int, code, message string) {
	if ec == nil {
		return
	}
	ec.ResponseStatus = status
	ec.ErrorCode = code
	ec.ErrorMessage = message
}
