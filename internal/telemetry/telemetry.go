// ABOUTME: Structured telemetry events for tool-call observability
// ABOUTME: Defines the per-request event shape and the sink interface

package telemetry

import (
	"context"
	"time"
)

// Event is the structured record published once per tool call. It carries
// the full masked bodies; the durable log row only keeps a summary.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	InstanceID     string    `json:"instanceId"`
	ChildServerID  string    `json:"childServerId"`
	ToolName       string    `json:"toolName"`
	Transport      string    `json:"transport"`
	Method         string    `json:"method"`

	DurationMs     int64  `json:"durationMs"`
	ResponseStatus int    `json:"responseStatus"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	MaskedRequestBody  string `json:"maskedRequestBody,omitempty"`
	MaskedResponseBody string `json:"maskedResponseBody,omitempty"`

	MaskingMode       string         `json:"maskingMode"`
	PIIRequestDetail  map[string]int `json:"piiRequestDetail,omitempty"`
	PIIResponseDetail map[string]int `json:"piiResponseDetail,omitempty"`
	PIIInfoTypes      []string       `json:"piiInfoTypes,omitempty"`

	// DBLogFailed is set when the durable log-row write failed; the event
	// is still published so the best-effort path survives store outages.
	DBLogFailed bool `json:"dbLogFailed"`
}

// Sink publishes telemetry events. Implementations must be safe for
// concurrent use; failures are the caller's to swallow.
type Sink interface {
	Publish(ctx context.Context, event *Event) error
}
