// ABOUTME: Credential resolution for child-server calls (none / api-key / oauth)
// ABOUTME: Produces HTTP headers per (instance, user); signals when authorization is needed

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/fanout-gateway/internal/store"
)

// OAuthRequiredError indicates the user has never authorized this instance
// and must complete the authorization flow before calling its tools.
type OAuthRequiredError struct {
	InstanceID string
	UserID     string
}

func (e *OAuthRequiredError) Error() string {
	return fmt.Sprintf("authorization required for instance %s: complete the OAuth flow and try again", e.InstanceID)
}

// ReAuthRequiredError indicates a stored credential was rejected by the
// provider and interactive re-authorization is needed. It carries the
// identifiers the re-authorization flow needs, so every layer above must
// re-throw it unchanged — wrapping it would strip the ids.
type ReAuthRequiredError struct {
	TokenID    string
	UserID     string
	InstanceID string
}

func (e *ReAuthRequiredError) Error() string {
	return fmt.Sprintf("re-authorization required for instance %s: the stored credential was rejected", e.InstanceID)
}

// Provider resolves the authentication material needed to call a
// child-server instance on behalf of a user.
type Provider struct {
	tokens store.TokenStore
	env    store.EnvStore
	logger *slog.Logger
}

// NewProvider creates a credential provider over the given stores.
func NewProvider(tokens store.TokenStore, env store.EnvStore, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		tokens: tokens,
		env:    env,
		logger: logger.With("component", "credentials"),
	}
}

// ResolveHeaders returns the HTTP headers for calling the given instance.
//
//   - AuthNone: empty headers, no I/O.
//   - AuthAPIKey: the stored env bundle's key/value pairs become headers
//     verbatim. Missing or unparsable bundles yield no headers rather than
//     an error: a misconfigured API key surfaces as a clear 401 from the
//     child server itself.
//   - AuthOAuth: the stored token becomes a single Authorization bearer
//     header. A missing token fails with OAuthRequiredError; an expired
//     token is never sent to the child and fails with ReAuthRequiredError
//     carrying the token id. Tokens are not proactively refreshed; a
//     provider-side rejection at call time is surfaced by the call path as
//     ReAuthRequiredError via RejectedCredential.
func (p *Provider) ResolveHeaders(ctx context.Context, instanceID, userID, orgID string, authKind store.AuthKind) (map[string]string, error) {
	switch authKind {
	case store.AuthNone:
		return map[string]string{}, nil

	case store.AuthAPIKey:
		return p.resolveAPIKey(ctx, instanceID, orgID, userID), nil

	case store.AuthOAuth:
		token, err := p.tokens.GetToken(ctx, userID, instanceID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &OAuthRequiredError{InstanceID: instanceID, UserID: userID}
		}
		if err != nil {
			return nil, fmt.Errorf("looking up token: %w", err)
		}
		if token.Expired(time.Now()) {
			return nil, &ReAuthRequiredError{TokenID: token.ID, UserID: userID, InstanceID: instanceID}
		}
		return map[string]string{
			"Authorization": "Bearer " + token.AccessToken,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth kind %q", authKind)
	}
}

// ResolveEnv returns the stored env bundle for the instance as KEY=VALUE
// pairs for a stdio child process. Resolution is fail-soft the same way
// api-key headers are: a missing or unparsable bundle yields no variables.
func (p *Provider) ResolveEnv(ctx context.Context, instanceID, userID, orgID string) []string {
	pairs := p.resolveAPIKey(ctx, instanceID, orgID, userID)
	if len(pairs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+pairs[k])
	}
	return env
}

// RejectedCredential builds the re-authorization signal for a stored
// credential the provider refused at call time. The token lookup is best
// effort: a row that vanished since resolution still yields the signal,
// just without a token id.
func (p *Provider) RejectedCredential(ctx context.Context, instanceID, userID string) *ReAuthRequiredError {
	reauth := &ReAuthRequiredError{UserID: userID, InstanceID: instanceID}
	if token, err := p.tokens.GetToken(ctx, userID, instanceID); err == nil {
		reauth.TokenID = token.ID
	}
	return reauth
}

// resolveAPIKey is fail-soft: any lookup or parse problem produces empty
// headers, logged at debug.
func (p *Provider) resolveAPIKey(ctx context.Context, instanceID, orgID, userID string) map[string]string {
	bundle, err := p.env.GetEnvBundle(ctx, instanceID, orgID, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("env bundle lookup failed", "instance_id", instanceID, "error", err)
		}
		return map[string]string{}
	}

	if bundle.Payload == "" || bundle.Payload == "null" {
		return map[string]string{}
	}

	var headers map[string]string
	if err := json.Unmarshal([]byte(bundle.Payload), &headers); err != nil {
		p.logger.Debug("env bundle payload unparsable", "instance_id", instanceID, "error", err)
		return map[string]string{}
	}
	if headers == nil {
		return map[string]string{}
	}
	return headers
}
