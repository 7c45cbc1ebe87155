// ABOUTME: Store interfaces and data types for fanout-gateway persistence
// ABOUTME: Defines catalog, token, env-bundle, and request-log storage contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateInstance is returned when an instance name collides within its unified server
var ErrDuplicateInstance = errors.New("instance already exists")

// TransportKind identifies how a child server is reached.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// AuthKind identifies the credential material an instance needs.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api-key"
	AuthOAuth  AuthKind = "oauth"
)

// MaskingMode controls PII masking for a unified server.
type MaskingMode string

const (
	MaskingDisabled MaskingMode = "disabled"
	MaskingStandard MaskingMode = "standard"
)

// UnifiedServer is the logical grouping that fans out calls across one or
// more child-server instances under a single namespace. A deleted unified
// server makes all of its instances unusable, even when the instance rows
// themselves are not deleted.
type UnifiedServer struct {
	ID             string
	Name           string
	OrganizationID string
	DynamicSearch  bool
	MaskingMode    MaskingMode
	PIICategories  []string
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ServerTemplate describes an upstream child-server binary or endpoint that
// instances are stamped out from. DeclaredTools is the statically declared
// tool list used to validate calls before connecting.
type ServerTemplate struct {
	ID            string
	Name          string
	Transport     TransportKind
	Command       string
	Args          []string
	URL           string
	DeclaredTools []string
	CreatedAt     time.Time
}

// ServerInstance is one configured binding of a template to a unified
// server. Name is normalized and unique within the unified server.
// ChildServerID is the routing id that appears as the first segment of
// 3-level tool names.
type ServerInstance struct {
	ID              string
	UnifiedServerID string
	ChildServerID   string
	Name            string
	DisplayOrder    int
	AuthKind        AuthKind
	OrganizationID  string
	TemplateID      string
	Deleted         bool
	CreatedAt       time.Time
}

// InstanceDetail is an instance loaded together with its parent unified
// server and its template, as needed by a single tool call.
type InstanceDetail struct {
	Instance *ServerInstance
	Server   *UnifiedServer
	Template *ServerTemplate
}

// ToolCatalogEntry is one invocable tool exposed by an instance, as last
// introspected from the child server.
type ToolCatalogEntry struct {
	InstanceID  string
	Name        string
	Description string
	InputSchema string // JSON schema document
}

// ToolDiff is the result of comparing a refreshed tool snapshot against the
// previously stored one. Snapshots are never silently overwritten; the diff
// is surfaced so external change history can be preserved.
type ToolDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the refresh changed nothing.
func (d *ToolDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// OAuthToken grants one user access to one instance. Unique per
// (user, instance). An expired token is still usable for copy/reuse
// classification but never for a live call.
type OAuthToken struct {
	ID           string
	UserID       string
	OrgID        string
	InstanceID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ClientID     string
	Purpose      string
	CreatedAt    time.Time
}

// Expired reports whether the token's expiry, if any, has passed.
func (t *OAuthToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// SiblingToken pairs an existing token with the template its instance was
// stamped from, for the bulk token-copy query.
type SiblingToken struct {
	Token      *OAuthToken
	TemplateID string
}

// EnvBundle is a stored environment-variable bundle for an instance. A nil
// UserID means it is the organization-wide default; a user-scoped bundle
// takes precedence.
type EnvBundle struct {
	ID         string
	InstanceID string
	OrgID      string
	UserID     *string
	Payload    string // JSON object of key/value pairs
	CreatedAt  time.Time
}

// RequestLogRow is the durable per-call log record.
type RequestLogRow struct {
	ID               string
	InstanceID       string
	ToolName         string
	Transport        string
	Method           string
	ResponseStatus   int
	DurationMs       int64
	InputBytes       int
	OutputBytes      int
	ErrorCode        string
	ErrorMessage     string
	MaskingMode      string
	PIIRequestCount  int
	PIIResponseCount int
	PIIInfoTypes     []string
	OrganizationID   string
	UserID           string
	UserAgent        string
	CreatedAt        time.Time
}

// CatalogStore provides the unified-server/instance/template/tool catalog.
type CatalogStore interface {
	CreateUnifiedServer(ctx context.Context, srv *UnifiedServer) error
	GetUnifiedServer(ctx context.Context, id string) (*UnifiedServer, error)

	CreateTemplate(ctx context.Context, tpl *ServerTemplate) error
	GetTemplate(ctx context.Context, id string) (*ServerTemplate, error)

	CreateInstance(ctx context.Context, inst *ServerInstance) error
	// GetInstanceDetail loads an instance by (childServerID, normalized name)
	// together with its parent unified server and its template.
	GetInstanceDetail(ctx context.Context, childServerID, instanceName string) (*InstanceDetail, error)
	// ListInstances returns a unified server's instances in display order.
	ListInstances(ctx context.Context, unifiedServerID string) ([]*ServerInstance, error)

	ListInstanceTools(ctx context.Context, instanceID string) ([]*ToolCatalogEntry, error)
	// ReplaceInstanceTools swaps the stored snapshot for the given instance
	// and returns the diff against the previous snapshot.
	ReplaceInstanceTools(ctx context.Context, instanceID string, tools []*ToolCatalogEntry) (*ToolDiff, error)
}

// TokenStore provides OAuth token persistence.
type TokenStore interface {
	GetToken(ctx context.Context, userID, instanceID string) (*OAuthToken, error)
	// ListSiblingTokens fetches, in one query, the user's tokens held on
	// instances of the given templates, excluding the listed instance ids.
	ListSiblingTokens(ctx context.Context, userID string, templateIDs []string, excludeInstanceIDs []string) ([]*SiblingToken, error)
	// CreateTokens inserts a batch of token rows in a single call.
	CreateTokens(ctx context.Context, tokens []*OAuthToken) error
}

// EnvStore provides environment-variable bundle lookup with user-scoped
// precedence over the organization-wide default.
type EnvStore interface {
	CreateEnvBundle(ctx context.Context, bundle *EnvBundle) error
	GetEnvBundle(ctx context.Context, instanceID, orgID string, userID string) (*EnvBundle, error)
}

// RequestLogStore persists per-call log rows.
type RequestLogStore interface {
	InsertRequestLog(ctx context.Context, row *RequestLogRow) error
}

// Store is the full persistence surface implemented by SQLiteStore.
type Store interface {
	CatalogStore
	TokenStore
	EnvStore
	RequestLogStore
	Close() error
}
