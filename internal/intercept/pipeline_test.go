// ABOUTME: Tests for the interception pipeline's masking and logging stages
// ABOUTME: Covers fail-open masking, detached logging, and error passthrough

package intercept

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/masking"
	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/telemetry"
)

type fakeMasker struct {
	mu         sync.Mutex
	jsonErr    error
	textErr    error
	jsonCalls  int
	textCalls  int
	detections []masking.Detection
}

func (f *fakeMasker) MaskJSON(ctx context.Context, value any, categories []string) (*masking.JSONResult, error) {
	f.mu.Lock()
	f.jsonCalls++
	f.mu.Unlock()
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	masked := map[string]any{}
	if m, ok := value.(map[string]any); ok {
		for k := range m {
			masked[k] = "[MASKED]"
		}
	}
	total, _ := masking.SumDetections(f.detections)
	return &masking.JSONResult{MaskedData: masked, DetectedCount: total, DetectedPIIList: f.detections}, nil
}

func (f *fakeMasker) MaskText(ctx context.Context, text string, categories []string) (*masking.TextResult, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	total, _ := masking.SumDetections(f.detections)
	return &masking.TextResult{MaskedText: "masked:" + text, DetectedCount: total, DetectedPIIList: f.detections}, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*telemetry.Event
	panics bool
}

func (s *captureSink) Publish(ctx context.Context, event *telemetry.Event) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Events() []*telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*telemetry.Event(nil), s.events...)
}

func testIdentity() *identity.Identity {
	return &identity.Identity{
		AuthMethod:     "jwt",
		OrganizationID: "org-A",
		UserID:         "user-1",
		MaskingMode:    store.MaskingStandard,
		PIICategories:  []string{"EMAIL_ADDRESS"},
		UserAgent:      "test-agent/1.0",
	}
}

// runCtx installs an identity and a fresh execution context with the tool
// name resolved, the way the executor leaves it.
func runCtx(id *identity.Identity) (context.Context, *ExecutionContext) {
	ctx := context.Background()
	if id != nil {
		ctx = identity.WithIdentity(ctx, id)
	}
	ctx, ec := WithExecution(ctx)
	ec.ToolName = "github__create_issue"
	ec.InstanceID = "inst-1"
	ec.ChildServerID = "server-1"
	ec.Transport = "stdio"
	return ctx, ec
}

func TestRun_MasksRequestAndResponse(t *testing.T) {
	masker := &fakeMasker{detections: []masking.Detection{{Category: "EMAIL_ADDRESS", Count: 2}}}
	m := store.NewMockStore()
	sink := &captureSink{}
	p := NewPipeline(masker, m, sink, nil)

	ctx, ec := runCtx(testIdentity())
	var gotArgs map[string]any
	result, err := p.Run(ctx, map[string]any{"title": "alice@example.com"}, func(ctx context.Context, args map[string]any) (string, error) {
		gotArgs = args
		return "issue for alice@example.com", nil
	})
	require.NoError(t, err)
	p.Flush()

	// The child server saw the masked arguments, not the originals.
	assert.Equal(t, map[string]any{"title": "[MASKED]"}, gotArgs)
	// The agent got the re-masked response text.
	assert.Equal(t, "masked:issue for alice@example.com", result)

	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 2}, ec.PIIRequestDetail)
	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 2}, ec.PIIResponseDetail)
	assert.Equal(t, []string{"EMAIL_ADDRESS"}, ec.PIIInfoTypes)
	assert.Equal(t, 200, ec.ResponseStatus)

	rows := m.RequestLogs()
	require.Len(t, rows, 1)
	assert.Equal(t, "github__create_issue", rows[0].ToolName)
	assert.Equal(t, 2, rows[0].PIIRequestCount)
	assert.Equal(t, 2, rows[0].PIIResponseCount)
	assert.Equal(t, "standard", rows[0].MaskingMode)
	assert.Equal(t, "org-A", rows[0].OrganizationID)
	assert.Equal(t, "test-agent/1.0", rows[0].UserAgent)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].DBLogFailed)
	assert.Equal(t, `{"title":"[MASKED]"}`, events[0].MaskedRequestBody)
	assert.Equal(t, "masked:issue for alice@example.com", events[0].MaskedResponseBody)
}

func TestRun_RequestMaskingFailsOpen(t *testing.T) {
	masker := &fakeMasker{jsonErr: errors.New("masking service down")}
	p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)

	ctx, _ := runCtx(testIdentity())
	var gotArgs map[string]any
	result, err := p.Run(ctx, map[string]any{"title": "alice@example.com"}, func(ctx context.Context, args map[string]any) (string, error) {
		gotArgs = args
		return "ok", nil
	})
	require.NoError(t, err)
	p.Flush()

	assert.Equal(t, "alice@example.com", gotArgs["title"], "original args proceed when masking fails")
	assert.Equal(t, "masked:ok", result, "response stage still runs")
}

func TestRun_ResponseMaskingFailsOpen(t *testing.T) {
	masker := &fakeMasker{textErr: errors.New("masking service down")}
	p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)

	ctx, _ := runCtx(testIdentity())
	result, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "raw response", nil
	})
	require.NoError(t, err)
	p.Flush()

	assert.Equal(t, "raw response", result)
}

func TestRun_MaskingSkipped(t *testing.T) {
	t.Run("mode disabled", func(t *testing.T) {
		masker := &fakeMasker{}
		p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)
		id := testIdentity()
		id.MaskingMode = store.MaskingDisabled

		ctx, _ := runCtx(id)
		result, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
			return "plain", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Equal(t, "plain", result)
		assert.Zero(t, masker.jsonCalls)
		assert.Zero(t, masker.textCalls)
	})

	t.Run("no identity", func(t *testing.T) {
		masker := &fakeMasker{}
		p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)

		ctx, _ := runCtx(nil)
		result, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
			return "plain", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Equal(t, "plain", result)
		assert.Zero(t, masker.jsonCalls)
	})

	t.Run("empty request body", func(t *testing.T) {
		masker := &fakeMasker{}
		p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)

		ctx, _ := runCtx(testIdentity())
		_, err := p.Run(ctx, nil, func(ctx context.Context, args map[string]any) (string, error) {
			return "out", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Zero(t, masker.jsonCalls, "empty argument map skips the request stage")
		assert.Equal(t, 1, masker.textCalls)
	})

	t.Run("empty response passes through", func(t *testing.T) {
		masker := &fakeMasker{}
		p := NewPipeline(masker, store.NewMockStore(), &captureSink{}, nil)

		ctx, _ := runCtx(testIdentity())
		result, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Empty(t, result)
		assert.Zero(t, masker.textCalls)
	})
}

func TestRun_ReAuthRequiredPassesThroughUnwrapped(t *testing.T) {
	p := NewPipeline(&fakeMasker{}, store.NewMockStore(), &captureSink{}, nil)

	reauth := &credentials.ReAuthRequiredError{TokenID: "tok-1", UserID: "user-1", InstanceID: "inst-1"}
	ctx, _ := runCtx(testIdentity())
	_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", reauth
	})
	p.Flush()

	// The exact error value, not a wrapped copy.
	var got *credentials.ReAuthRequiredError
	require.ErrorAs(t, err, &got)
	assert.Same(t, reauth, got)
	assert.Equal(t, reauth, err)
}

func TestRun_CallErrorStillLogged(t *testing.T) {
	m := store.NewMockStore()
	sink := &captureSink{}
	p := NewPipeline(&fakeMasker{}, m, sink, nil)

	ctx, ec := runCtx(testIdentity())
	ec.ErrorCode = "MCP_ERROR"
	ec.ErrorMessage = "tool blew up"
	ec.ResponseStatus = 500

	_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("tool blew up")
	})
	require.Error(t, err)
	p.Flush()

	rows := m.RequestLogs()
	require.Len(t, rows, 1)
	assert.Equal(t, "MCP_ERROR", rows[0].ErrorCode)
	assert.Equal(t, 500, rows[0].ResponseStatus)
	require.Len(t, sink.Events(), 1)
}

func TestRun_DBLogFailureSetsFlagAndStillPublishes(t *testing.T) {
	m := store.NewMockStore()
	m.InsertLogErr = errors.New("sqlite is on fire")
	sink := &captureSink{}
	p := NewPipeline(&fakeMasker{}, m, sink, nil)

	ctx, _ := runCtx(testIdentity())
	result, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err, "log failures never surface to the caller")
	assert.Equal(t, "masked:ok", result)
	p.Flush()

	events := sink.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].DBLogFailed)
	assert.Empty(t, m.RequestLogs())
}

func TestRun_SinkPanicRecovered(t *testing.T) {
	m := store.NewMockStore()
	p := NewPipeline(&fakeMasker{}, m, &captureSink{panics: true}, nil)

	ctx, _ := runCtx(testIdentity())
	_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	p.Flush()

	// The durable row still landed before the sink panicked.
	assert.Len(t, m.RequestLogs(), 1)
}

func TestRun_LoggingSkipped(t *testing.T) {
	t.Run("no identity", func(t *testing.T) {
		m := store.NewMockStore()
		sink := &captureSink{}
		p := NewPipeline(nil, m, sink, nil)

		ctx, _ := runCtx(nil)
		_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Empty(t, m.RequestLogs())
		assert.Empty(t, sink.Events())
	})

	t.Run("no tool name", func(t *testing.T) {
		m := store.NewMockStore()
		sink := &captureSink{}
		p := NewPipeline(nil, m, sink, nil)

		ctx := identity.WithIdentity(context.Background(), testIdentity())
		ctx, _ = WithExecution(ctx)
		_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		p.Flush()
		assert.Empty(t, m.RequestLogs())
		assert.Empty(t, sink.Events())
	})
}

func TestExecutionContext_FreshPerRequest(t *testing.T) {
	m := store.NewMockStore()
	p := NewPipeline(nil, m, &captureSink{}, nil)

	const workers = 16
	var mu sync.Mutex
	seen := make(map[*ExecutionContext]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, ec := runCtx(testIdentity())
			_, err := p.Run(ctx, map[string]any{"q": "x"}, func(ctx context.Context, args map[string]any) (string, error) {
				return "ok", nil
			})
			assert.NoError(t, err)
			mu.Lock()
			seen[ec] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	p.Flush()

	assert.Len(t, seen, workers, "every request gets its own execution context")
	ids := make(map[string]bool)
	for ec := range seen {
		ids[ec.ID] = true
		assert.False(t, ec.StartedAt.IsZero())
	}
	assert.Len(t, ids, workers)
	assert.Len(t, m.RequestLogs(), workers)
}
