// ABOUTME: Tests for the HTTP telemetry sink
// ABOUTME: Covers plain and zstd-compressed event publishing

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSink_Publish(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, false)
	require.NoError(t, err)

	err = sink.Publish(context.Background(), &Event{
		Timestamp:   time.Now(),
		ToolName:    "server-123__github__create_issue",
		DurationMs:  42,
		DBLogFailed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "server-123__github__create_issue", received.ToolName)
	assert.True(t, received.DBLogFailed)
}

func TestHTTPSink_PublishCompressed(t *testing.T) {
	decoder, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer decoder.Close()

	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := decoder.DecodeAll(compressed, nil)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &received))
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, true)
	require.NoError(t, err)

	err = sink.Publish(context.Background(), &Event{ToolName: "t", MaskedRequestBody: `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, received.MaskedRequestBody)
}

func TestHTTPSink_CollectorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, false)
	require.NoError(t, err)

	err = sink.Publish(context.Background(), &Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
