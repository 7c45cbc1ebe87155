// Package store provides persistent storage for the gateway using SQLite.
//
// The package uses an interface-driven architecture with one interface per
// concern:
//
//   - CatalogStore: unified servers, templates, instances, tool snapshots
//   - TokenStore: OAuth tokens keyed by (user, instance), batch sibling
//     lookup and batch creation for token copy
//   - EnvStore: environment-variable bundles with user-scoped precedence
//   - RequestLogStore: durable per-call log rows
//
// SQLiteStore implements all interfaces in a single struct. MockStore is an
// in-memory implementation for tests.
//
// The SQLite database runs in WAL mode with foreign keys enabled; the schema
// is created on open. Tool snapshots are replaced transactionally and every
// refresh produces an added/removed/modified diff against the previous
// snapshot so catalog change history is never lost.
package store
