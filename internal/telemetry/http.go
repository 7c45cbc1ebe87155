// ABOUTME: HTTP sink publishing telemetry events with optional zstd compression
// ABOUTME: One POST per event; compression trades CPU for smaller masked payloads

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
)

// HTTPSink posts events as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	compress bool
	client   *http.Client
	encoder  *zstd.Encoder
}

// NewHTTPSink creates an HTTP sink. When compress is true, event payloads
// are zstd-compressed and tagged with Content-Encoding.
func NewHTTPSink(endpoint string, compress bool) (*HTTPSink, error) {
	s := &HTTPSink{
		endpoint: endpoint,
		compress: compress,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// Publish posts one event to the collector.
func (s *HTTPSink) Publish(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if s.compress {
		payload = s.encoder.EncodeAll(payload, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes events to the process log. Used when no collector endpoint
// is configured so telemetry still lands somewhere inspectable.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs events at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

// Publish logs the event summary.
func (s *LogSink) Publish(ctx context.Context, event *Event) error {
	s.logger.InfoContext(ctx, "tool call event",
		"tool", event.ToolName,
		"transport", event.Transport,
		"duration_ms", event.DurationMs,
		"status", event.ResponseStatus,
		"error_code", event.ErrorCode,
		"pii_info_types", event.PIIInfoTypes,
		"db_log_failed", event.DBLogFailed,
	)
	return nil
}
