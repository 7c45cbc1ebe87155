// Package connector opens ephemeral transport connections to child servers
// speaking the MCP protocol.
//
// Three transports are supported via mark3labs/mcp-go: a local child
// process over stdio, server-sent events, and streamable HTTP. Every tool
// call performs its own open/use/close cycle; connections are not pooled,
// trading setup latency for strict credential isolation between requests.
//
// Connection attempts are retried with a fixed delay up to a configured
// bound. Transport construction errors (a bad command or URL) are hard
// failures and are not retried. The Pool type exposes coarse per-transport
// active/total counters for the observability endpoint.
package connector
