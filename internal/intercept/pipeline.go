// ABOUTME: Tool-call interception pipeline: mask request, execute, mask response, log
// ABOUTME: Masking is fail-open and logging is detached; neither can break a call

package intercept

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/masking"
	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/telemetry"
)

// CallFunc performs the actual child-server tool call with the (possibly
// masked) arguments and returns the raw response text.
type CallFunc func(ctx context.Context, args map[string]any) (string, error)

// Pipeline wraps every tool call in the masking and logging stages. The
// stages run in a fixed order: mask request, execute, mask response, then a
// detached async log. Errors from the call itself pass through unchanged —
// in particular credentials.ReAuthRequiredError must reach the agent with
// its identifiers intact.
type Pipeline struct {
	masker masking.Masker
	logs   store.RequestLogStore
	sink   telemetry.Sink
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewPipeline creates a pipeline. masker, logs, and sink may each be nil,
// disabling that stage.
func NewPipeline(masker masking.Masker, logs store.RequestLogStore, sink telemetry.Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		masker: masker,
		logs:   logs,
		sink:   sink,
		logger: logger.With("component", "intercept"),
	}
}

// Run executes one tool call through the full pipeline. The execution
// context travels in ctx; if the caller did not install one, a fresh one is
// created so the stages always have somewhere to record.
func (p *Pipeline) Run(ctx context.Context, args map[string]any, call CallFunc) (string, error) {
	ec := ExecutionFromContext(ctx)
	if ec == nil {
		ctx, ec = WithExecution(ctx)
	}
	id := identity.FromContext(ctx)

	if raw, err := json.Marshal(args); err == nil {
		ec.InputBytes = len(raw)
	}

	args = p.maskRequest(ctx, ec, id, args)

	result, callErr := call(ctx, args)
	ec.OutputBytes = len(result)

	if callErr == nil {
		result = p.maskResponse(ctx, ec, id, result)
		if ec.ResponseStatus == 0 {
			ec.ResponseStatus = 200
		}
	}

	p.logAsync(ec, id)
	return result, callErr
}

// Flush waits for all in-flight log goroutines. Used at shutdown and in
// tests; requests never wait on it.
func (p *Pipeline) Flush() {
	p.wg.Wait()
}

func (p *Pipeline) maskingActive(id *identity.Identity) bool {
	return p.masker != nil && id != nil && id.MaskingMode != store.MaskingDisabled
}

// maskRequest masks the request arguments as a JSON value. An empty
// argument map skips the stage; any masking failure falls open and the
// original arguments proceed to the child server.
func (p *Pipeline) maskRequest(ctx context.Context, ec *ExecutionContext, id *identity.Identity, args map[string]any) map[string]any {
	if !p.maskingActive(id) || len(args) == 0 {
		return args
	}

	res, err := p.masker.MaskJSON(ctx, args, id.PIICategories)
	if err != nil {
		p.logger.Warn("request masking failed, continuing unmasked",
			"tool", ec.ToolName, "error", err)
		return args
	}

	maskedArgs, ok := res.MaskedData.(map[string]any)
	if !ok {
		p.logger.Warn("request masking returned non-object payload, continuing unmasked",
			"tool", ec.ToolName)
		return args
	}

	if encoded, err := json.Marshal(maskedArgs); err == nil {
		ec.MaskedRequest = string(encoded)
	}
	ec.PIIRequestDetail = detectionMap(res.DetectedPIIList)
	_, categories := masking.SumDetections(res.DetectedPIIList)
	ec.RecordDetection(categories)
	return maskedArgs
}

// maskResponse re-masks the response as opaque text; child servers return
// arbitrary content, so no structure is assumed. Empty responses pass
// through and failures fall open.
func (p *Pipeline) maskResponse(ctx context.Context, ec *ExecutionContext, id *identity.Identity, result string) string {
	if !p.maskingActive(id) || result == "" {
		return result
	}

	res, err := p.masker.MaskText(ctx, result, id.PIICategories)
	if err != nil {
		p.logger.Warn("response masking failed, returning unmasked",
			"tool", ec.ToolName, "error", err)
		return result
	}

	ec.MaskedResponse = res.MaskedText
	ec.PIIResponseDetail = detectionMap(res.DetectedPIIList)
	_, categories := masking.SumDetections(res.DetectedPIIList)
	ec.RecordDetection(categories)
	return res.MaskedText
}

// logAsync writes the durable log row and publishes the telemetry event on
// a detached goroutine. A failed row write sets DBLogFailed on the event,
// which is still published; a failed publish is swallowed. Requests without
// an identity or a resolved tool name are not logged.
func (p *Pipeline) logAsync(ec *ExecutionContext, id *identity.Identity) {
	if id == nil || ec.ToolName == "" {
		return
	}

	durationMs := time.Since(ec.StartedAt).Milliseconds()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("request logging panicked", "tool", ec.ToolName, "panic", r)
			}
		}()

		// Detached from the request's context: logging outlives the response.
		ctx := context.Background()

		dbLogFailed := false
		if p.logs != nil {
			row := &store.RequestLogRow{
				ID:               ec.ID,
				InstanceID:       ec.InstanceID,
				ToolName:         ec.ToolName,
				Transport:        ec.Transport,
				Method:           ec.Method,
				ResponseStatus:   ec.ResponseStatus,
				DurationMs:       durationMs,
				InputBytes:       ec.InputBytes,
				OutputBytes:      ec.OutputBytes,
				ErrorCode:        ec.ErrorCode,
				ErrorMessage:     ec.ErrorMessage,
				MaskingMode:      string(id.MaskingMode),
				PIIRequestCount:  sumCounts(ec.PIIRequestDetail),
				PIIResponseCount: sumCounts(ec.PIIResponseDetail),
				PIIInfoTypes:     ec.PIIInfoTypes,
				OrganizationID:   id.OrganizationID,
				UserID:           id.UserID,
				UserAgent:        id.UserAgent,
				CreatedAt:        time.Now().UTC(),
			}
			if err := p.logs.InsertRequestLog(ctx, row); err != nil {
				dbLogFailed = true
				p.logger.Error("request log row write failed", "tool", ec.ToolName, "error", err)
			}
		}

		if p.sink == nil {
			return
		}
		event := &telemetry.Event{
			Timestamp:          ec.StartedAt,
			OrganizationID:     id.OrganizationID,
			UserID:             id.UserID,
			InstanceID:         ec.InstanceID,
			ChildServerID:      ec.ChildServerID,
			ToolName:           ec.ToolName,
			Transport:          ec.Transport,
			Method:             ec.Method,
			DurationMs:         durationMs,
			ResponseStatus:     ec.ResponseStatus,
			ErrorCode:          ec.ErrorCode,
			ErrorMessage:       ec.ErrorMessage,
			MaskedRequestBody:  ec.MaskedRequest,
			MaskedResponseBody: ec.MaskedResponse,
			MaskingMode:        string(id.MaskingMode),
			PIIRequestDetail:   ec.PIIRequestDetail,
			PIIResponseDetail:  ec.PIIResponseDetail,
			PIIInfoTypes:       ec.PIIInfoTypes,
			DBLogFailed:        dbLogFailed,
		}
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Error("telemetry publish failed", "tool", ec.ToolName, "error", err)
		}
	}()
}

func detectionMap(detections []masking.Detection) map[string]int {
	if len(detections) == 0 {
		return nil
	}
	m := make(map[string]int, len(detections))
	for _, d := range detections {
		m[d.Category] += d.Count
	}
	return m
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
