// Package catalog manages the tool listings a unified server exposes: the
// flattened per-instance catalog, the dynamic-search meta-tool gate, and
// refresh of stored snapshots from live child servers.
package catalog
