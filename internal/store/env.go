// ABOUTME: Environment-variable bundle persistence for instance API keys
// ABOUTME: User-scoped bundles take precedence over organization-wide defaults

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateEnvBundle inserts a new environment-variable bundle.
func (s *SQLiteStore) CreateEnvBundle(ctx context.Context, bundle *EnvBundle) error {
	if bundle.ID == "" {
		bundle.ID = uuid.New().String()
	}
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO env_bundles (id, instance_id, organization_id, user_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		bundle.ID, bundle.InstanceID, bundle.OrgID, bundle.UserID, bundle.Payload, bundle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting env bundle: %w", err)
	}
	return nil
}

// GetEnvBundle returns the most specific bundle for (instance, org, user):
// a bundle scoped to the given user wins over the organization-wide default.
// Returns ErrNotFound when neither exists.
func (s *SQLiteStore) GetEnvBundle(ctx context.Context, instanceID, orgID string, userID string) (*EnvBundle, error) {
	// ORDER BY puts the user-scoped row first; LIMIT 1 applies the tie-break.
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, organization_id, user_id, payload, created_at
		FROM env_bundles
		WHERE instance_id = ? AND organization_id = ?
		  AND (user_id = ? OR user_id IS NULL)
		ORDER BY user_id IS NULL
		LIMIT 1`, instanceID, orgID, userID)

	var b EnvBundle
	var user sql.NullString
	err := row.Scan(&b.ID, &b.InstanceID, &b.OrgID, &user, &b.Payload, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning env bundle: %w", err)
	}
	if user.Valid {
		b.UserID = &user.String
	}
	return &b, nil
}
