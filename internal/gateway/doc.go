// Package gateway exposes the agent-facing MCP Streamable HTTP endpoint
// and owns process-level wiring: store, connector, masking, telemetry,
// and the interception pipeline around every tool call.
package gateway
