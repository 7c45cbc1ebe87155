// ABOUTME: Child-server catalog re-introspection with snapshot diffing
// ABOUTME: Connects, lists live tools, and replaces the stored snapshot via diff

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/fanout-gateway/internal/connector"
	"github.com/2389/fanout-gateway/internal/store"
)

// Refresher re-introspects a child server's tool list and updates the
// stored snapshot, producing the added/removed/modified diff.
type Refresher struct {
	store     store.CatalogStore
	connector *connector.Connector
	logger    *slog.Logger
}

// NewRefresher creates a refresher over the catalog store and connector.
func NewRefresher(catalogStore store.CatalogStore, conn *connector.Connector, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:     catalogStore,
		connector: conn,
		logger:    logger.With("component", "refresher"),
	}
}

// Refresh connects to the instance's child server with the given credential
// headers, lists its live tools, and swaps the stored snapshot. The
// connection is torn down whether or not the refresh succeeds.
func (r *Refresher) Refresh(ctx context.Context, detail *store.InstanceDetail, headers map[string]string, env []string) (*store.ToolDiff, error) {
	cfg := connector.ConfigFromTemplate(detail.Template, headers, env)

	conn, err := r.connector.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting for refresh: %w", err)
	}
	defer conn.Close()

	liveTools, err := conn.Session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing live tools: %w", err)
	}

	entries := make([]*store.ToolCatalogEntry, 0, len(liveTools))
	for _, t := range liveTools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema for tool %q: %w", t.Name, err)
		}
		entries = append(entries, &store.ToolCatalogEntry{
			InstanceID:  detail.Instance.ID,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: string(schema),
		})
	}

	diff, err := r.store.ReplaceInstanceTools(ctx, detail.Instance.ID, entries)
	if err != nil {
		return nil, fmt.Errorf("storing refreshed snapshot: %w", err)
	}

	r.logger.Info("refreshed tool catalog",
		"instance", detail.Instance.Name,
		"tools", len(entries),
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"modified", len(diff.Modified))
	return diff, nil
}
