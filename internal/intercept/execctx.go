// ABOUTME: Per-request execution context carried through the call pipeline
// ABOUTME: Collects routing, timing, masking, and error detail for one tool call

package intercept

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext accumulates everything one tool call produces that the
// log row and telemetry event need. One is created per request and travels
// in the context.Context; it is owned by the request goroutine and is not
// safe for concurrent mutation.
type ExecutionContext struct {
	ID        string
	StartedAt time.Time

	// Routing detail, filled in by the executor once resolved.
	InstanceID    string
	ChildServerID string
	ToolName      string
	Transport     string
	Method        string

	// Outcome.
	ResponseStatus int
	ErrorCode      string
	ErrorMessage   string
	InputBytes     int
	OutputBytes    int

	// Masking detail, filled in by the pipeline stages.
	MaskedRequest     string
	MaskedResponse    string
	PIIRequestDetail  map[string]int
	PIIResponseDetail map[string]int
	PIIInfoTypes      []string
}

// NewExecutionContext creates a fresh execution context stamped now.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Method:    "tools/call",
	}
}

// RecordDetection merges a masked-payload category breakdown into the
// context, keeping the deduplicated category list in first-seen order.
func (ec *ExecutionContext) RecordDetection(categories []string) {
	seen := make(map[string]bool, len(ec.PIIInfoTypes))
	for _, c := range ec.PIIInfoTypes {
		seen[c] = true
	}
	for _, c := range categories {
		if !seen[c] {
			seen[c] = true
			ec.PIIInfoTypes = append(ec.PIIInfoTypes, c)
		}
	}
}

// execKey is the key type for storing the ExecutionContext in context.Context.
type execKey struct{}

// WithExecution returns a context carrying a fresh execution context.
func WithExecution(ctx context.Context) (context.Context, *ExecutionContext) {
	ec := NewExecutionContext()
	return context.WithValue(ctx, execKey{}, ec), ec
}

// ExecutionFromContext retrieves the execution context, or nil when the
// request did not come through the pipeline.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(execKey{}).(*ExecutionContext)
	return ec
}
