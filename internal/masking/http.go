// ABOUTME: HTTP client for the external PII masking service
// ABOUTME: Posts JSON mask requests to /json and /text endpoints with a bounded timeout

package masking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a masking response we will read (4MB).
const maxResponseBytes = 4 << 20

// HTTPMasker calls an external masking service over HTTP.
type HTTPMasker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMasker creates a masker client for the given base endpoint.
func NewHTTPMasker(endpoint string, timeout time.Duration) *HTTPMasker {
	return &HTTPMasker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type maskRequest struct {
	Value      any      `json:"value,omitempty"`
	Text       string   `json:"text,omitempty"`
	Categories []string `json:"categories"`
}

// MaskJSON sends a parsed JSON value to the masking service.
func (m *HTTPMasker) MaskJSON(ctx context.Context, value any, categories []string) (*JSONResult, error) {
	var result JSONResult
	if err := m.post(ctx, m.endpoint+"/json", &maskRequest{Value: value, Categories: categories}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MaskText sends an opaque text payload to the masking service.
func (m *HTTPMasker) MaskText(ctx context.Context, text string, categories []string) (*TextResult, error) {
	var result TextResult
	if err := m.post(ctx, m.endpoint+"/text", &maskRequest{Text: text, Categories: categories}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *HTTPMasker) post(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding mask request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building mask request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling masking service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("masking service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading mask response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding mask response: %w", err)
	}
	return nil
}
