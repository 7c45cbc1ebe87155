// ABOUTME: Tool catalog flattening and the dynamic-search gate
// ABOUTME: Decides between the full flat catalog and the fixed meta-tool set

package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/toolname"
)

// Tool is one entry in a tool listing exposed to the agent.
type Tool struct {
	Name        string
	Description string
	InputSchema string // JSON schema document
	InstanceID  string // owning instance; empty for meta-tools
}

// MetaProvider supplies the fixed meta-tool set (search/describe/execute)
// used instead of a flat catalog when dynamic search is enabled. It is an
// optional capability resolved at startup: a nil provider, or one returning
// an empty set, means the capability is absent from this build.
type MetaProvider interface {
	MetaTools() []Tool
}

// Gate decides what tool listing a unified server exposes.
type Gate struct {
	store  store.CatalogStore
	meta   MetaProvider
	logger *slog.Logger
}

// NewGate creates a gate over the catalog store. meta may be nil.
func NewGate(catalogStore store.CatalogStore, meta MetaProvider, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  catalogStore,
		meta:   meta,
		logger: logger.With("component", "catalog"),
	}
}

// ListTools returns the tool listing for a unified server and whether
// dynamic search is active for it.
//
// With dynamic search off the full flattened catalog is returned. With it
// on, the meta-tool set replaces the catalog — unless the capability is
// absent, in which case a warning is recorded and the full catalog is
// returned anyway: dynamic search is best-effort and must never make tools
// unreachable.
func (g *Gate) ListTools(ctx context.Context, srv *store.UnifiedServer) ([]Tool, bool, error) {
	if !srv.DynamicSearch {
		tools, err := g.FlattenTools(ctx, srv)
		return tools, false, err
	}

	if g.meta != nil {
		if metaTools := g.meta.MetaTools(); len(metaTools) > 0 {
			return metaTools, true, nil
		}
	}

	g.logger.Warn("dynamic search enabled but meta tools unavailable, falling back to full catalog",
		"unified_server_id", srv.ID)
	tools, err := g.FlattenTools(ctx, srv)
	return tools, false, err
}

// FlattenTools returns the full flattened catalog for a unified server,
// regardless of the dynamic-search flag. The meta-tools use this entry
// point to resolve a tool by name at execution time.
//
// Ordering is an observable contract: instances in stored display order,
// and within an instance the order the child server returned its tools.
func (g *Gate) FlattenTools(ctx context.Context, srv *store.UnifiedServer) ([]Tool, error) {
	instances, err := g.store.ListInstances(ctx, srv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	var tools []Tool
	for _, inst := range instances {
		entries, err := g.store.ListInstanceTools(ctx, inst.ID)
		if err != nil {
			return nil, fmt.Errorf("listing tools for instance %s: %w", inst.Name, err)
		}
		for _, e := range entries {
			tools = append(tools, Tool{
				Name:        toolname.Build(inst.Name, e.Name),
				Description: e.Description,
				InputSchema: e.InputSchema,
				InstanceID:  inst.ID,
			})
		}
	}
	return tools, nil
}
