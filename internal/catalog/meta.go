// ABOUTME: Built-in meta-tool set for dynamic search over large catalogs
// ABOUTME: search_tools/describe_tools/execute_tool page through the flat catalog lazily

package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/fanout-gateway/internal/store"
)

// Meta-tool names. The set is a fixed capability, not user-configurable.
const (
	MetaSearchTools   = "search_tools"
	MetaDescribeTools = "describe_tools"
	MetaExecuteTool   = "execute_tool"
)

// DefaultPageSize bounds search_tools result pages.
const DefaultPageSize = 25

// BuiltinMetaProvider is the in-process meta-tool capability.
type BuiltinMetaProvider struct{}

// MetaTools returns the fixed meta-tool definitions.
func (BuiltinMetaProvider) MetaTools() []Tool {
	return []Tool{
		{
			Name:        MetaSearchTools,
			Description: "Search the tool catalog by keyword. Returns matching tool names and descriptions, paged.",
			InputSchema: `{"type":"object","properties":{"query":{"type":"string","description":"Keyword to match against tool names and descriptions"},"page":{"type":"integer","description":"Zero-based page number","default":0}},"required":["query"]}`,
		},
		{
			Name:        MetaDescribeTools,
			Description: "Return the full description and input schema for the named tools.",
			InputSchema: `{"type":"object","properties":{"names":{"type":"array","items":{"type":"string"},"description":"Tool names as returned by search_tools"}},"required":["names"]}`,
		},
		{
			Name:        MetaExecuteTool,
			Description: "Execute a catalog tool by name with the given arguments.",
			InputSchema: `{"type":"object","properties":{"name":{"type":"string","description":"Tool name as returned by search_tools"},"arguments":{"type":"object","description":"Arguments for the tool"}},"required":["name"]}`,
		},
	}
}

// IsMetaTool reports whether name is one of the fixed meta-tools.
func IsMetaTool(name string) bool {
	switch name {
	case MetaSearchTools, MetaDescribeTools, MetaExecuteTool:
		return true
	}
	return false
}

// SearchResult is one search_tools hit.
type SearchResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SearchPage is a page of search_tools results.
type SearchPage struct {
	Results  []SearchResult `json:"results"`
	Page     int            `json:"page"`
	HasMore  bool           `json:"hasMore"`
	TotalHit int            `json:"totalHits"`
}

// SearchTools matches query against the flattened catalog's names and
// descriptions, case-insensitively, and returns the requested page.
// The flattened list is always used, regardless of the dynamic-search flag.
func (g *Gate) SearchTools(ctx context.Context, srv *store.UnifiedServer, query string, page int) (*SearchPage, error) {
	tools, err := g.FlattenTools(ctx, srv)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var hits []SearchResult
	for _, t := range tools {
		if needle == "" ||
			strings.Contains(strings.ToLower(t.Name), needle) ||
			strings.Contains(strings.ToLower(t.Description), needle) {
			hits = append(hits, SearchResult{Name: t.Name, Description: t.Description})
		}
	}

	if page < 0 {
		page = 0
	}
	start := page * DefaultPageSize
	if start > len(hits) {
		start = len(hits)
	}
	end := start + DefaultPageSize
	if end > len(hits) {
		end = len(hits)
	}

	return &SearchPage{
		Results:  hits[start:end],
		Page:     page,
		HasMore:  end < len(hits),
		TotalHit: len(hits),
	}, nil
}

// DescribeTools returns the full definitions for the named tools. Unknown
// names are reported rather than silently dropped.
func (g *Gate) DescribeTools(ctx context.Context, srv *store.UnifiedServer, names []string) ([]Tool, error) {
	tools, err := g.FlattenTools(ctx, srv)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	var described []Tool
	var missing []string
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		described = append(described, t)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown tools: %s", strings.Join(missing, ", "))
	}
	return described, nil
}
