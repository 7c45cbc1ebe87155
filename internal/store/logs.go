// ABOUTME: Durable request-log row persistence for the interception pipeline
// ABOUTME: One summarized row per tool call with PII counts and error fields

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertRequestLog persists one summarized per-call log row.
func (s *SQLiteStore) InsertRequestLog(ctx context.Context, row *RequestLogRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	infoTypes, err := json.Marshal(row.PIIInfoTypes)
	if err != nil {
		return fmt.Errorf("encoding pii info types: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_logs (
			id, instance_id, tool_name, transport, method, response_status,
			duration_ms, input_bytes, output_bytes, error_code, error_message,
			masking_mode, pii_request_count, pii_response_count, pii_info_types,
			organization_id, user_id, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.InstanceID, row.ToolName, row.Transport, row.Method, row.ResponseStatus,
		row.DurationMs, row.InputBytes, row.OutputBytes, row.ErrorCode, row.ErrorMessage,
		row.MaskingMode, row.PIIRequestCount, row.PIIResponseCount, string(infoTypes),
		row.OrganizationID, row.UserID, row.UserAgent, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}
