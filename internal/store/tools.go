// ABOUTME: Tool catalog persistence with snapshot diffing on refresh
// ABOUTME: Refreshed tool lists replace the previous snapshot and report added/removed/modified

package store

import (
	"context"
	"fmt"
	"sort"
)

// ListInstanceTools returns the stored tool snapshot for an instance,
// ordered by the child server's declared order of last refresh (rowid).
func (s *SQLiteStore) ListInstanceTools(ctx context.Context, instanceID string) ([]*ToolCatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, name, description, input_schema
		FROM tool_catalog WHERE instance_id = ?
		ORDER BY rowid`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	var tools []*ToolCatalogEntry
	for rows.Next() {
		var t ToolCatalogEntry
		if err := rows.Scan(&t.InstanceID, &t.Name, &t.Description, &t.InputSchema); err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		tools = append(tools, &t)
	}
	return tools, rows.Err()
}

// ReplaceInstanceTools swaps the stored tool snapshot for an instance inside
// one transaction and returns the diff against the previous snapshot. The
// diff is computed before the swap so that change history is never lost to a
// silent overwrite.
func (s *SQLiteStore) ReplaceInstanceTools(ctx context.Context, instanceID string, tools []*ToolCatalogEntry) (*ToolDiff, error) {
	previous, err := s.ListInstanceTools(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	diff := DiffTools(previous, tools)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_catalog WHERE instance_id = ?`, instanceID); err != nil {
		return nil, fmt.Errorf("clearing tool snapshot: %w", err)
	}

	for _, t := range tools {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_catalog (instance_id, name, description, input_schema)
			VALUES (?, ?, ?, ?)`,
			instanceID, t.Name, t.Description, t.InputSchema); err != nil {
			return nil, fmt.Errorf("inserting tool %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing tool snapshot: %w", err)
	}

	if !diff.Empty() {
		s.logger.Info("tool catalog changed",
			"instance_id", instanceID,
			"added", len(diff.Added),
			"removed", len(diff.Removed),
			"modified", len(diff.Modified))
	}

	return diff, nil
}

// DiffTools compares two tool snapshots by name, reporting names present
// only in the new snapshot as added, names present only in the old one as
// removed, and names whose description or schema changed as modified.
// Result slices are sorted for deterministic output.
func DiffTools(old, new []*ToolCatalogEntry) *ToolDiff {
	oldByName := make(map[string]*ToolCatalogEntry, len(old))
	for _, t := range old {
		oldByName[t.Name] = t
	}
	newByName := make(map[string]*ToolCatalogEntry, len(new))
	for _, t := range new {
		newByName[t.Name] = t
	}

	diff := &ToolDiff{}
	for name, nt := range newByName {
		ot, ok := oldByName[name]
		if !ok {
			diff.Added = append(diff.Added, name)
			continue
		}
		if ot.Description != nt.Description || ot.InputSchema != nt.InputSchema {
			diff.Modified = append(diff.Modified, name)
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff
}
