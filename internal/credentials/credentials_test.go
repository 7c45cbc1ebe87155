// ABOUTME: Tests for credential header resolution across auth kinds
// ABOUTME: Covers fail-soft api-key lookup and OAuthRequired signaling

package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fanout-gateway/internal/store"
)

func seedProvider(t *testing.T) (*Provider, *store.MockStore, *store.ServerInstance) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMockStore()

	require.NoError(t, m.CreateUnifiedServer(ctx, &store.UnifiedServer{ID: "srv-1", OrganizationID: "org-A"}))
	require.NoError(t, m.CreateTemplate(ctx, &store.ServerTemplate{ID: "tpl-1", Transport: store.TransportStdio}))

	inst := &store.ServerInstance{
		ID:              "inst-1",
		UnifiedServerID: "srv-1",
		ChildServerID:   "server-123",
		Name:            "github",
		AuthKind:        store.AuthOAuth,
		OrganizationID:  "org-A",
		TemplateID:      "tpl-1",
	}
	require.NoError(t, m.CreateInstance(ctx, inst))

	return NewProvider(m, m, nil), m, inst
}

func TestResolveHeaders_None(t *testing.T) {
	p, m, _ := seedProvider(t)
	m.ResetTokenStoreCalls()

	headers, err := p.ResolveHeaders(context.Background(), "inst-1", "user-1", "org-A", store.AuthNone)
	require.NoError(t, err)
	assert.Empty(t, headers)
	assert.Zero(t, m.TokenStoreCalls, "auth none must not touch the token store")
}

func TestResolveHeaders_APIKey(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-1",
		OrgID:      "org-A",
		Payload:    `{"X-Api-Key":"org-key","X-Extra":"1"}`,
	}))

	headers, err := p.ResolveHeaders(ctx, "inst-1", "user-1", "org-A", store.AuthAPIKey)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Api-Key": "org-key", "X-Extra": "1"}, headers)
}

func TestResolveHeaders_APIKeyUserScopedWins(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()
	user := "user-1"

	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-1", OrgID: "org-A", Payload: `{"X-Api-Key":"org-key"}`,
	}))
	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-1", OrgID: "org-A", UserID: &user, Payload: `{"X-Api-Key":"user-key"}`,
	}))

	headers, err := p.ResolveHeaders(ctx, "inst-1", "user-1", "org-A", store.AuthAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "user-key", headers["X-Api-Key"])
}

func TestResolveHeaders_APIKeyFailSoft(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	// No bundle at all.
	headers, err := p.ResolveHeaders(ctx, "inst-1", "user-1", "org-A", store.AuthAPIKey)
	require.NoError(t, err)
	assert.Empty(t, headers)

	// Null payload.
	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-2", OrgID: "org-A", Payload: `null`,
	}))
	headers, err = p.ResolveHeaders(ctx, "inst-2", "user-1", "org-A", store.AuthAPIKey)
	require.NoError(t, err)
	assert.Empty(t, headers)

	// Unparsable payload.
	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-3", OrgID: "org-A", Payload: `{{not json`,
	}))
	headers, err = p.ResolveHeaders(ctx, "inst-3", "user-1", "org-A", store.AuthAPIKey)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestResolveHeaders_OAuth(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTokens(ctx, []*store.OAuthToken{{
		UserID: "user-1", OrgID: "org-A", InstanceID: "inst-1", AccessToken: "at-123",
	}}))

	headers, err := p.ResolveHeaders(ctx, "inst-1", "user-1", "org-A", store.AuthOAuth)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer at-123"}, headers)
}

func TestResolveEnv(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	require.NoError(t, m.CreateEnvBundle(ctx, &store.EnvBundle{
		InstanceID: "inst-1",
		OrgID:      "org-A",
		Payload:    `{"GITHUB_TOKEN":"ghp_abc","GITHUB_ORG":"acme"}`,
	}))

	env := p.ResolveEnv(ctx, "inst-1", "user-1", "org-A")
	assert.Equal(t, []string{"GITHUB_ORG=acme", "GITHUB_TOKEN=ghp_abc"}, env, "pairs sorted by key")

	// Missing bundle is fail-soft.
	assert.Nil(t, p.ResolveEnv(ctx, "inst-9", "user-1", "org-A"))
}

func TestResolveHeaders_OAuthMissing(t *testing.T) {
	p, _, _ := seedProvider(t)

	_, err := p.ResolveHeaders(context.Background(), "inst-1", "user-1", "org-A", store.AuthOAuth)
	require.Error(t, err)

	var required *OAuthRequiredError
	require.True(t, errors.As(err, &required))
	assert.Equal(t, "inst-1", required.InstanceID)
	assert.Equal(t, "user-1", required.UserID)
	assert.Contains(t, required.Error(), "OAuth")
}

func TestResolveHeaders_OAuthExpired(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, m.CreateTokens(ctx, []*store.OAuthToken{{
		ID: "tok-1", UserID: "user-1", OrgID: "org-A", InstanceID: "inst-1",
		AccessToken: "at-old", ExpiresAt: &past,
	}}))

	_, err := p.ResolveHeaders(ctx, "inst-1", "user-1", "org-A", store.AuthOAuth)
	require.Error(t, err)

	// An expired token is never sent to the child server; the caller gets
	// the re-auth signal with the exact token to replace.
	var reauth *ReAuthRequiredError
	require.True(t, errors.As(err, &reauth))
	assert.Equal(t, "tok-1", reauth.TokenID)
	assert.Equal(t, "user-1", reauth.UserID)
	assert.Equal(t, "inst-1", reauth.InstanceID)
}

func TestRejectedCredential(t *testing.T) {
	p, m, _ := seedProvider(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTokens(ctx, []*store.OAuthToken{{
		ID: "tok-1", UserID: "user-1", OrgID: "org-A", InstanceID: "inst-1", AccessToken: "at-123",
	}}))

	reauth := p.RejectedCredential(ctx, "inst-1", "user-1")
	assert.Equal(t, "tok-1", reauth.TokenID)
	assert.Equal(t, "user-1", reauth.UserID)
	assert.Equal(t, "inst-1", reauth.InstanceID)

	// A token that vanished since resolution still yields the signal.
	reauth = p.RejectedCredential(ctx, "inst-9", "user-1")
	assert.Empty(t, reauth.TokenID)
	assert.Equal(t, "inst-9", reauth.InstanceID)
}
