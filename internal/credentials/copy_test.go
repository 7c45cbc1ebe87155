// ABOUTME: Tests for bulk OAuth token copy across sibling instances
// ABOUTME: Verifies batching, per-template donors, and non-oauth skipping

package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fanout-gateway/internal/store"
)

// seedCopyFixture builds: template T with one existing authorized instance,
// template U (api-key), and returns the provider plus the mock store.
func seedCopyFixture(t *testing.T) (*Provider, *store.MockStore) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMockStore()

	require.NoError(t, m.CreateUnifiedServer(ctx, &store.UnifiedServer{ID: "srv-1", OrganizationID: "org-A"}))
	require.NoError(t, m.CreateTemplate(ctx, &store.ServerTemplate{ID: "tpl-T", Transport: store.TransportStdio}))
	require.NoError(t, m.CreateTemplate(ctx, &store.ServerTemplate{ID: "tpl-U", Transport: store.TransportStdio}))

	require.NoError(t, m.CreateInstance(ctx, &store.ServerInstance{
		ID: "inst-existing", UnifiedServerID: "srv-1", ChildServerID: "server-A",
		Name: "github", AuthKind: store.AuthOAuth, OrganizationID: "org-A", TemplateID: "tpl-T",
	}))

	expires := time.Now().UTC().Add(time.Hour)
	require.NoError(t, m.CreateTokens(ctx, []*store.OAuthToken{{
		UserID: "user-1", OrgID: "org-A", InstanceID: "inst-existing",
		AccessToken: "at-donor", RefreshToken: "rt-donor", ExpiresAt: &expires,
		ClientID: "client-1", Purpose: "tools",
	}}))

	return NewProvider(m, m, nil), m
}

func TestCopyTokens_TwoSiblingsOneAPIKey(t *testing.T) {
	p, m := seedCopyFixture(t)
	ctx := context.Background()

	newInstances := []*store.ServerInstance{
		{ID: "inst-b", AuthKind: store.AuthOAuth, TemplateID: "tpl-T", OrganizationID: "org-A"},
		{ID: "inst-c", AuthKind: store.AuthOAuth, TemplateID: "tpl-T", OrganizationID: "org-A"},
		{ID: "inst-d", AuthKind: store.AuthAPIKey, TemplateID: "tpl-U", OrganizationID: "org-A"},
	}
	for _, inst := range newInstances {
		inst.UnifiedServerID = "srv-1"
		inst.ChildServerID = "server-B"
		inst.Name = "copy-" + inst.ID
		require.NoError(t, m.CreateInstance(ctx, inst))
	}
	m.ResetTokenStoreCalls()

	created, err := p.CopyTokensForNewInstances(ctx, "user-1", newInstances)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Exactly one batched sibling fetch plus one batched create.
	assert.Equal(t, 2, m.TokenStoreCalls)

	for _, id := range []string{"inst-b", "inst-c"} {
		token, err := m.GetToken(ctx, "user-1", id)
		require.NoError(t, err)
		assert.Equal(t, "at-donor", token.AccessToken)
		assert.Equal(t, "rt-donor", token.RefreshToken)
		assert.Equal(t, "client-1", token.ClientID)
		assert.Equal(t, "tools", token.Purpose)
		assert.Equal(t, id, token.InstanceID)
		require.NotNil(t, token.ExpiresAt)
	}

	// The api-key instance got no token.
	_, err = m.GetToken(ctx, "user-1", "inst-d")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCopyTokens_AllNonOAuthSkipsStore(t *testing.T) {
	p, m := seedCopyFixture(t)
	m.ResetTokenStoreCalls()

	created, err := p.CopyTokensForNewInstances(context.Background(), "user-1", []*store.ServerInstance{
		{ID: "inst-x", AuthKind: store.AuthAPIKey, TemplateID: "tpl-U"},
		{ID: "inst-y", AuthKind: store.AuthNone, TemplateID: "tpl-U"},
	})
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, m.TokenStoreCalls, "non-oauth batch must issue no token-store queries")
}

func TestCopyTokens_NoDonorLeavesTemplateUntouched(t *testing.T) {
	p, m := seedCopyFixture(t)
	ctx := context.Background()

	// tpl-U has no existing tokens; the new oauth instance of tpl-U must
	// be left for the user to authorize manually.
	require.NoError(t, m.CreateInstance(ctx, &store.ServerInstance{
		ID: "inst-u", UnifiedServerID: "srv-1", ChildServerID: "server-C",
		Name: "jira", AuthKind: store.AuthOAuth, OrganizationID: "org-A", TemplateID: "tpl-U",
	}))

	created, err := p.CopyTokensForNewInstances(ctx, "user-1", []*store.ServerInstance{
		{ID: "inst-u", AuthKind: store.AuthOAuth, TemplateID: "tpl-U"},
	})
	require.NoError(t, err)
	assert.Zero(t, created)

	_, err = m.GetToken(ctx, "user-1", "inst-u")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCopyTokens_ExpiredDonorStillCopies(t *testing.T) {
	ctx := context.Background()

	// An expired donor: expiry disqualifies live calls, not copy.
	past := time.Now().UTC().Add(-time.Hour)

	m2 := store.NewMockStore()
	require.NoError(t, m2.CreateUnifiedServer(ctx, &store.UnifiedServer{ID: "srv-1", OrganizationID: "org-A"}))
	require.NoError(t, m2.CreateTemplate(ctx, &store.ServerTemplate{ID: "tpl-T", Transport: store.TransportStdio}))
	require.NoError(t, m2.CreateInstance(ctx, &store.ServerInstance{
		ID: "inst-existing", UnifiedServerID: "srv-1", ChildServerID: "server-A",
		Name: "github", AuthKind: store.AuthOAuth, OrganizationID: "org-A", TemplateID: "tpl-T",
	}))
	require.NoError(t, m2.CreateTokens(ctx, []*store.OAuthToken{{
		UserID: "user-1", OrgID: "org-A", InstanceID: "inst-existing",
		AccessToken: "at-expired", ExpiresAt: &past,
	}}))

	p2 := NewProvider(m2, m2, nil)
	newInst := &store.ServerInstance{
		ID: "inst-new", UnifiedServerID: "srv-1", ChildServerID: "server-B",
		Name: "github-b", AuthKind: store.AuthOAuth, OrganizationID: "org-A", TemplateID: "tpl-T",
	}
	require.NoError(t, m2.CreateInstance(ctx, newInst))

	created, err := p2.CopyTokensForNewInstances(ctx, "user-1", []*store.ServerInstance{newInst})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	token, err := m2.GetToken(ctx, "user-1", "inst-new")
	require.NoError(t, err)
	assert.Equal(t, "at-expired", token.AccessToken)
	assert.True(t, token.Expired(time.Now()))
}
