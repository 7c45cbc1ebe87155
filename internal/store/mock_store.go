// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	servers   map[string]*UnifiedServer    // keyed by server ID
	templates map[string]*ServerTemplate   // keyed by template ID
	instances map[string]*ServerInstance   // keyed by instance ID
	tools     map[string][]*ToolCatalogEntry // keyed by instance ID
	tokens    map[string]*OAuthToken       // keyed by "userID:instanceID"
	bundles   []*EnvBundle
	logs      []*RequestLogRow

	// TokenStoreCalls counts every token-store query/write, for asserting
	// that non-oauth provisioning paths issue no store traffic.
	TokenStoreCalls int

	// InsertLogErr, when set, is returned by InsertRequestLog.
	InsertLogErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		servers:   make(map[string]*UnifiedServer),
		templates: make(map[string]*ServerTemplate),
		instances: make(map[string]*ServerInstance),
		tools:     make(map[string][]*ToolCatalogEntry),
		tokens:    make(map[string]*OAuthToken),
	}
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error { return nil }

// CreateUnifiedServer stores a new unified server.
func (m *MockStore) CreateUnifiedServer(ctx context.Context, srv *UnifiedServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	cp := *srv
	m.servers[srv.ID] = &cp
	return nil
}

// GetUnifiedServer fetches a unified server by id.
func (m *MockStore) GetUnifiedServer(ctx context.Context, id string) (*UnifiedServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	srv, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *srv
	return &cp, nil
}

// CreateTemplate stores a new template.
func (m *MockStore) CreateTemplate(ctx context.Context, tpl *ServerTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	cp := *tpl
	m.templates[tpl.ID] = &cp
	return nil
}

// GetTemplate fetches a template by id.
func (m *MockStore) GetTemplate(ctx context.Context, id string) (*ServerTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

// CreateInstance stores a new instance, enforcing name uniqueness within
// the unified server.
func (m *MockStore) CreateInstance(ctx context.Context, inst *ServerInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	for _, existing := range m.instances {
		if existing.UnifiedServerID == inst.UnifiedServerID && existing.Name == inst.Name {
			return ErrDuplicateInstance
		}
	}
	cp := *inst
	m.instances[inst.ID] = &cp
	return nil
}

// GetInstanceDetail loads an instance by (childServerID, name) with its
// parent server and template.
func (m *MockStore) GetInstanceDetail(ctx context.Context, childServerID, instanceName string) (*InstanceDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *ServerInstance
	for _, inst := range m.instances {
		if inst.ChildServerID == childServerID && inst.Name == instanceName {
			found = inst
			break
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}

	srv, ok := m.servers[found.UnifiedServerID]
	if !ok {
		return nil, fmt.Errorf("loading parent server: %w", ErrNotFound)
	}
	tpl, ok := m.templates[found.TemplateID]
	if !ok {
		return nil, fmt.Errorf("loading template: %w", ErrNotFound)
	}

	instCp, srvCp, tplCp := *found, *srv, *tpl
	return &InstanceDetail{Instance: &instCp, Server: &srvCp, Template: &tplCp}, nil
}

// ListInstances returns instances of a unified server in display order.
func (m *MockStore) ListInstances(ctx context.Context, unifiedServerID string) ([]*ServerInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ServerInstance
	for _, inst := range m.instances {
		if inst.UnifiedServerID == unifiedServerID && !inst.Deleted {
			cp := *inst
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListInstanceTools returns the stored tool snapshot for an instance.
func (m *MockStore) ListInstanceTools(ctx context.Context, instanceID string) ([]*ToolCatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tools := m.tools[instanceID]
	result := make([]*ToolCatalogEntry, len(tools))
	for i, t := range tools {
		cp := *t
		result[i] = &cp
	}
	return result, nil
}

// SetInstanceTools seeds a tool snapshot directly (test helper).
func (m *MockStore) SetInstanceTools(instanceID string, tools []*ToolCatalogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[instanceID] = tools
}

// ReplaceInstanceTools swaps the snapshot and returns the diff.
func (m *MockStore) ReplaceInstanceTools(ctx context.Context, instanceID string, tools []*ToolCatalogEntry) (*ToolDiff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	diff := DiffTools(m.tools[instanceID], tools)
	m.tools[instanceID] = tools
	return diff, nil
}

// GetToken fetches the token for (user, instance).
func (m *MockStore) GetToken(ctx context.Context, userID, instanceID string) (*OAuthToken, error) {
	m.mu.Lock()
	m.TokenStoreCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[userID+":"+instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListSiblingTokens returns the user's tokens on instances of the given
// templates, excluding the listed instance ids.
func (m *MockStore) ListSiblingTokens(ctx context.Context, userID string, templateIDs []string, excludeInstanceIDs []string) ([]*SiblingToken, error) {
	m.mu.Lock()
	m.TokenStoreCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	wantTemplate := make(map[string]bool, len(templateIDs))
	for _, id := range templateIDs {
		wantTemplate[id] = true
	}
	excluded := make(map[string]bool, len(excludeInstanceIDs))
	for _, id := range excludeInstanceIDs {
		excluded[id] = true
	}

	var result []*SiblingToken
	for _, t := range m.tokens {
		if t.UserID != userID || excluded[t.InstanceID] {
			continue
		}
		inst, ok := m.instances[t.InstanceID]
		if !ok || !wantTemplate[inst.TemplateID] {
			continue
		}
		cp := *t
		result = append(result, &SiblingToken{Token: &cp, TemplateID: inst.TemplateID})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Token.CreatedAt.Before(result[j].Token.CreatedAt)
	})
	return result, nil
}

// CreateTokens inserts a batch of token rows.
func (m *MockStore) CreateTokens(ctx context.Context, tokens []*OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenStoreCalls++

	for _, t := range tokens {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		key := t.UserID + ":" + t.InstanceID
		if _, exists := m.tokens[key]; exists {
			return fmt.Errorf("token already exists for %s", key)
		}
		cp := *t
		m.tokens[key] = &cp
	}
	return nil
}

// CreateEnvBundle stores a new env bundle.
func (m *MockStore) CreateEnvBundle(ctx context.Context, bundle *EnvBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bundle.ID == "" {
		bundle.ID = uuid.New().String()
	}
	cp := *bundle
	m.bundles = append(m.bundles, &cp)
	return nil
}

// GetEnvBundle returns the most specific bundle, user-scoped first.
func (m *MockStore) GetEnvBundle(ctx context.Context, instanceID, orgID string, userID string) (*EnvBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orgWide *EnvBundle
	for _, b := range m.bundles {
		if b.InstanceID != instanceID || b.OrgID != orgID {
			continue
		}
		if b.UserID != nil && *b.UserID == userID {
			cp := *b
			return &cp, nil
		}
		if b.UserID == nil && orgWide == nil {
			orgWide = b
		}
	}
	if orgWide == nil {
		return nil, ErrNotFound
	}
	cp := *orgWide
	return &cp, nil
}

// InsertRequestLog records a log row, or fails with InsertLogErr when set.
func (m *MockStore) InsertRequestLog(ctx context.Context, row *RequestLogRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertLogErr != nil {
		return m.InsertLogErr
	}
	cp := *row
	m.logs = append(m.logs, &cp)
	return nil
}

// RequestLogs returns the recorded log rows (test helper).
func (m *MockStore) RequestLogs() []*RequestLogRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*RequestLogRow, len(m.logs))
	copy(result, m.logs)
	return result
}

// ResetTokenStoreCalls zeroes the token-store call counter (test helper).
func (m *MockStore) ResetTokenStoreCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenStoreCalls = 0
}
