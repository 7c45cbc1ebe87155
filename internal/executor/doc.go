// Package executor performs one namespaced tool call end to end: name
// resolution, the per-call authorization checks, credential resolution,
// an ephemeral child-server connection, and guaranteed teardown.
package executor
