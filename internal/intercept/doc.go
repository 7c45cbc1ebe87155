// Package intercept wraps every tool call in PII masking and best-effort
// observability. Masking is fail-open and logging is detached: neither a
// masking outage nor a store outage can fail or delay a tool call.
package intercept
