// ABOUTME: OAuth token persistence keyed by (user, instance)
// ABOUTME: Supports batch sibling lookup by template and batch creation for token copy

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetToken fetches the token for (user, instance). Returns ErrNotFound when
// the user has never authorized this instance.
func (s *SQLiteStore) GetToken(ctx context.Context, userID, instanceID string) (*OAuthToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, organization_id, instance_id, access_token, refresh_token, expires_at, client_id, purpose, created_at
		FROM oauth_tokens WHERE user_id = ? AND instance_id = ?`, userID, instanceID)

	var t OAuthToken
	var expires sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.OrgID, &t.InstanceID, &t.AccessToken,
		&t.RefreshToken, &expires, &t.ClientID, &t.Purpose, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning token: %w", err)
	}
	if expires.Valid {
		t.ExpiresAt = &expires.Time
	}
	return &t, nil
}

// ListSiblingTokens fetches, in a single query, the user's existing tokens
// held on instances stamped from any of the given templates, excluding the
// listed (freshly provisioned) instance ids. Each result carries the
// template id so callers can pick one donor token per template.
func (s *SQLiteStore) ListSiblingTokens(ctx context.Context, userID string, templateIDs []string, excludeInstanceIDs []string) ([]*SiblingToken, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT t.id, t.user_id, t.organization_id, t.instance_id, t.access_token,
		       t.refresh_token, t.expires_at, t.client_id, t.purpose, t.created_at,
		       i.template_id
		FROM oauth_tokens t
		JOIN server_instances i ON i.id = t.instance_id
		WHERE t.user_id = ?
		  AND i.template_id IN (` + placeholders(len(templateIDs)) + `)`

	args := []any{userID}
	for _, id := range templateIDs {
		args = append(args, id)
	}
	if len(excludeInstanceIDs) > 0 {
		query += ` AND t.instance_id NOT IN (` + placeholders(len(excludeInstanceIDs)) + `)`
		for _, id := range excludeInstanceIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sibling tokens: %w", err)
	}
	defer rows.Close()

	var result []*SiblingToken
	for rows.Next() {
		var t OAuthToken
		var templateID string
		var expires sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrgID, &t.InstanceID, &t.AccessToken,
			&t.RefreshToken, &expires, &t.ClientID, &t.Purpose, &t.CreatedAt, &templateID); err != nil {
			return nil, fmt.Errorf("scanning sibling token: %w", err)
		}
		if expires.Valid {
			t.ExpiresAt = &expires.Time
		}
		result = append(result, &SiblingToken{Token: &t, TemplateID: templateID})
	}
	return result, rows.Err()
}

// CreateTokens inserts a batch of token rows in one transaction.
func (s *SQLiteStore) CreateTokens(ctx context.Context, tokens []*OAuthToken) error {
	if len(tokens) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tokens {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO oauth_tokens (id, user_id, organization_id, instance_id, access_token, refresh_token, expires_at, client_id, purpose, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.OrgID, t.InstanceID, t.AccessToken, t.RefreshToken,
			t.ExpiresAt, t.ClientID, t.Purpose, t.CreatedAt); err != nil {
			return fmt.Errorf("inserting token for instance %s: %w", t.InstanceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tokens: %w", err)
	}
	return nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
