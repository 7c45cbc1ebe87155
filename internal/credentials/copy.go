// ABOUTME: Bulk OAuth token copy across sibling instances of the same template
// ABOUTME: Lets a user skip re-authorizing when a new instance shares an upstream template

package credentials

import (
	"context"
	"fmt"

	"github.com/2389/fanout-gateway/internal/store"
)

// CopyTokensForNewInstances runs once per provisioning batch. For every new
// oauth instance whose template already has a token on a sibling instance,
// one new token row is created copying the sibling token's client id,
// access token, refresh token, expiry, and purpose, scoped to the new
// instance id. The authorization store keys by instance, so this is one row
// per new instance, not a shared token.
//
// Non-oauth instances are skipped before any query is issued; templates
// with no existing sibling token are left untouched (the user must
// authorize at least once). All sibling tokens are fetched in a single
// batch query and all new rows are created in a single batch call.
func (p *Provider) CopyTokensForNewInstances(ctx context.Context, userID string, newInstances []*store.ServerInstance) (int, error) {
	// Filter to oauth instances first; an all-api-key batch must produce
	// zero token-store traffic.
	var oauthInstances []*store.ServerInstance
	templateSet := make(map[string]bool)
	var templateIDs, newIDs []string
	for _, inst := range newInstances {
		if inst.AuthKind != store.AuthOAuth {
			continue
		}
		oauthInstances = append(oauthInstances, inst)
		newIDs = append(newIDs, inst.ID)
		if !templateSet[inst.TemplateID] {
			templateSet[inst.TemplateID] = true
			templateIDs = append(templateIDs, inst.TemplateID)
		}
	}
	if len(oauthInstances) == 0 {
		return 0, nil
	}

	siblings, err := p.tokens.ListSiblingTokens(ctx, userID, templateIDs, newIDs)
	if err != nil {
		return 0, fmt.Errorf("fetching sibling tokens: %w", err)
	}

	// One donor token per template; when several siblings hold tokens the
	// first returned wins. Expired donors are still copied: expiry only
	// matters for live calls, not for reuse classification.
	donorByTemplate := make(map[string]*store.OAuthToken)
	for _, s := range siblings {
		if _, ok := donorByTemplate[s.TemplateID]; !ok {
			donorByTemplate[s.TemplateID] = s.Token
		}
	}
	if len(donorByTemplate) == 0 {
		return 0, nil
	}

	var created []*store.OAuthToken
	for _, inst := range oauthInstances {
		donor, ok := donorByTemplate[inst.TemplateID]
		if !ok {
			continue
		}
		created = append(created, &store.OAuthToken{
			UserID:       userID,
			OrgID:        donor.OrgID,
			InstanceID:   inst.ID,
			AccessToken:  donor.AccessToken,
			RefreshToken: donor.RefreshToken,
			ExpiresAt:    donor.ExpiresAt,
			ClientID:     donor.ClientID,
			Purpose:      donor.Purpose,
		})
	}
	if len(created) == 0 {
		return 0, nil
	}

	if err := p.tokens.CreateTokens(ctx, created); err != nil {
		return 0, fmt.Errorf("creating copied tokens: %w", err)
	}

	p.logger.Info("copied oauth tokens to new instances",
		"user_id", userID,
		"tokens_created", len(created),
		"templates", len(donorByTemplate))
	return len(created), nil
}
