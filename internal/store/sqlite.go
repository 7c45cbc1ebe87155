// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Provides catalog/token/env/log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS unified_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			dynamic_search INTEGER NOT NULL DEFAULT 0,
			masking_mode TEXT NOT NULL DEFAULT 'disabled',
			pii_categories TEXT NOT NULL DEFAULT '[]',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS server_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			url TEXT NOT NULL DEFAULT '',
			declared_tools TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS server_instances (
			id TEXT PRIMARY KEY,
			unified_server_id TEXT NOT NULL REFERENCES unified_servers(id),
			child_server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			display_order INTEGER NOT NULL DEFAULT 0,
			auth_kind TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			template_id TEXT NOT NULL REFERENCES server_templates(id),
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_server_name
			ON server_instances(unified_server_id, name);

		CREATE INDEX IF NOT EXISTS idx_instances_child_server
			ON server_instances(child_server_id, name);

		CREATE TABLE IF NOT EXISTS tool_catalog (
			instance_id TEXT NOT NULL REFERENCES server_instances(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			input_schema TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (instance_id, name)
		);

		CREATE TABLE IF NOT EXISTS oauth_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			instance_id TEXT NOT NULL REFERENCES server_instances(id),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			client_id TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_user_instance
			ON oauth_tokens(user_id, instance_id);

		CREATE TABLE IF NOT EXISTS env_bundles (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL REFERENCES server_instances(id),
			organization_id TEXT NOT NULL,
			user_id TEXT,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_env_instance_org
			ON env_bundles(instance_id, organization_id);

		CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			transport TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			response_status INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			input_bytes INTEGER NOT NULL DEFAULT 0,
			output_bytes INTEGER NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			masking_mode TEXT NOT NULL DEFAULT '',
			pii_request_count INTEGER NOT NULL DEFAULT 0,
			pii_response_count INTEGER NOT NULL DEFAULT 0,
			pii_info_types TEXT NOT NULL DEFAULT '[]',
			organization_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUnifiedServer inserts a new unified server.
func (s *SQLiteStore) CreateUnifiedServer(ctx context.Context, srv *UnifiedServer) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	srv.UpdatedAt = now
	if srv.MaskingMode == "" {
		srv.MaskingMode = MaskingDisabled
	}

	categories, err := json.Marshal(srv.PIICategories)
	if err != nil {
		return fmt.Errorf("encoding pii categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unified_servers (id, name, organization_id, dynamic_search, masking_mode, pii_categories, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.OrganizationID, boolToInt(srv.DynamicSearch),
		string(srv.MaskingMode), string(categories), boolToInt(srv.Deleted),
		srv.CreatedAt, srv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting unified server: %w", err)
	}
	return nil
}

// GetUnifiedServer fetches a unified server by id.
func (s *SQLiteStore) GetUnifiedServer(ctx context.Context, id string) (*UnifiedServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, organization_id, dynamic_search, masking_mode, pii_categories, deleted, created_at, updated_at
		FROM unified_servers WHERE id = ?`, id)
	return scanUnifiedServer(row)
}

func scanUnifiedServer(row *sql.Row) (*UnifiedServer, error) {
	var srv UnifiedServer
	var dynamicSearch, deleted int
	var mode, categories string
	err := row.Scan(&srv.ID, &srv.Name, &srv.OrganizationID, &dynamicSearch,
		&mode, &categories, &deleted, &srv.CreatedAt, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning unified server: %w", err)
	}
	srv.DynamicSearch = dynamicSearch != 0
	srv.Deleted = deleted != 0
	srv.MaskingMode = MaskingMode(mode)
	if err := json.Unmarshal([]byte(categories), &srv.PIICategories); err != nil {
		return nil, fmt.Errorf("decoding pii categories: %w", err)
	}
	return &srv, nil
}

// CreateTemplate inserts a new server template.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, tpl *ServerTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	args, err := json.Marshal(tpl.Args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	tools, err := json.Marshal(tpl.DeclaredTools)
	if err != nil {
		return fmt.Errorf("encoding declared tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO server_templates (id, name, transport, command, args, url, declared_tools, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, string(tpl.Transport), tpl.Command, string(args), tpl.URL, string(tools), tpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting template: %w", err)
	}
	return nil
}

// GetTemplate fetches a template by id.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*ServerTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, transport, command, args, url, declared_tools, created_at
		FROM server_templates WHERE id = ?`, id)

	var tpl ServerTemplate
	var transport, args, tools string
	err := row.Scan(&tpl.ID, &tpl.Name, &transport, &tpl.Command, &args, &tpl.URL, &tools, &tpl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning template: %w", err)
	}
	tpl.Transport = TransportKind(transport)
	if err := json.Unmarshal([]byte(args), &tpl.Args); err != nil {
		return nil, fmt.Errorf("decoding args: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &tpl.DeclaredTools); err != nil {
		return nil, fmt.Errorf("decoding declared tools: %w", err)
	}
	return &tpl, nil
}

// CreateInstance inserts a new server instance. The (unified server, name)
// pair is unique; violations return ErrDuplicateInstance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *ServerInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_instances (id, unified_server_id, child_server_id, name, display_order, auth_kind, organization_id, template_id, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.UnifiedServerID, inst.ChildServerID, inst.Name, inst.DisplayOrder,
		string(inst.AuthKind), inst.OrganizationID, inst.TemplateID, boolToInt(inst.Deleted), inst.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateInstance
		}
		return fmt.Errorf("inserting instance: %w", err)
	}
	return nil
}

// GetInstanceDetail loads an instance by (childServerID, name) together with
// its parent unified server and its template. The caller is responsible for
// the organization and soft-delete checks; loading is by id alone.
func (s *SQLiteStore) GetInstanceDetail(ctx context.Context, childServerID, instanceName string) (*InstanceDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, unified_server_id, child_server_id, name, display_order, auth_kind, organization_id, template_id, deleted, created_at
		FROM server_instances WHERE child_server_id = ? AND name = ?`, childServerID, instanceName)

	inst, err := scanInstance(row)
	if err != nil {
		return nil, err
	}

	srv, err := s.GetUnifiedServer(ctx, inst.UnifiedServerID)
	if err != nil {
		return nil, fmt.Errorf("loading parent server: %w", err)
	}

	tpl, err := s.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}

	return &InstanceDetail{Instance: inst, Server: srv, Template: tpl}, nil
}

func scanInstance(row *sql.Row) (*ServerInstance, error) {
	var inst ServerInstance
	var authKind string
	var deleted int
	err := row.Scan(&inst.ID, &inst.UnifiedServerID, &inst.ChildServerID, &inst.Name,
		&inst.DisplayOrder, &authKind, &inst.OrganizationID, &inst.TemplateID, &deleted, &inst.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning instance: %w", err)
	}
	inst.AuthKind = AuthKind(authKind)
	inst.Deleted = deleted != 0
	return &inst, nil
}

// ListInstances returns a unified server's instances in display order.
// The order is an observable contract: tool listings are built from it.
func (s *SQLiteStore) ListInstances(ctx context.Context, unifiedServerID string) ([]*ServerInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unified_server_id, child_server_id, name, display_order, auth_kind, organization_id, template_id, deleted, created_at
		FROM server_instances
		WHERE unified_server_id = ? AND deleted = 0
		ORDER BY display_order, created_at`, unifiedServerID)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var instances []*ServerInstance
	for rows.Next() {
		var inst ServerInstance
		var authKind string
		var deleted int
		if err := rows.Scan(&inst.ID, &inst.UnifiedServerID, &inst.ChildServerID, &inst.Name,
			&inst.DisplayOrder, &authKind, &inst.OrganizationID, &inst.TemplateID, &deleted, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		inst.AuthKind = AuthKind(authKind)
		inst.Deleted = deleted != 0
		instances = append(instances, &inst)
	}
	return instances, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
