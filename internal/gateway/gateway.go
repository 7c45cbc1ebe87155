// ABOUTME: Gateway orchestrator owning the store, connector, pipeline, and HTTP server
// ABOUTME: Constructed once at process start; Run blocks until shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/fanout-gateway/internal/catalog"
	"github.com/2389/fanout-gateway/internal/config"
	"github.com/2389/fanout-gateway/internal/connector"
	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/executor"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/intercept"
	"github.com/2389/fanout-gateway/internal/masking"
	"github.com/2389/fanout-gateway/internal/store"
	"github.com/2389/fanout-gateway/internal/telemetry"
)

// Gateway wires the stores, connector, pipeline, and agent-facing HTTP
// server together for one process.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	pool       *connector.Pool
	pipeline   *intercept.Pipeline
	mcpServer  *Server
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway from configuration: SQLite store, MCP dialer with
// retry policy, optional masking and telemetry collaborators, and the MCP
// endpoint with JWT verification.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	pool := connector.NewPool()
	dialer := &connector.MCPDialer{ClientName: "fanout-gateway", ClientVersion: "1.0.0"}
	conn := connector.New(dialer, pool, cfg.Connector.MaxAttempts, cfg.Connector.RetryDelay, logger)

	var masker masking.Masker
	if cfg.Masking.Endpoint != "" {
		masker = masking.NewHTTPMasker(cfg.Masking.Endpoint, cfg.Masking.Timeout)
	}

	var sink telemetry.Sink
	if cfg.Telemetry.Endpoint != "" {
		httpSink, err := telemetry.NewHTTPSink(cfg.Telemetry.Endpoint, cfg.Telemetry.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating telemetry sink: %w", err)
		}
		sink = httpSink
	} else {
		sink = telemetry.NewLogSink(logger)
	}

	pipeline := intercept.NewPipeline(masker, s, sink, logger)
	creds := credentials.NewProvider(s, s, logger)
	exec := executor.New(s, creds, conn, logger)
	gate := catalog.NewGate(s, catalog.BuiltinMetaProvider{}, logger)

	mcpServer, err := NewServer(ServerConfig{
		Catalog:        s,
		Gate:           gate,
		Executor:       exec,
		Pipeline:       pipeline,
		Verifier:       identity.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		pool:      pool,
		pipeline:  pipeline,
		mcpServer: mcpServer,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", gw.handleHealth)
	mux.HandleFunc("/poolz", gw.handlePool)
	mcpServer.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		g.logger.Error("http server failed", "error", serverErr)
	}

	// The original context is already cancelled; shutdown gets its own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops accepting requests, waits for detached log writes, and
// closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.pipeline.Flush()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePool reports the per-transport connection counters.
func (g *Gateway) handlePool(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.pool.Stats()); err != nil {
		g.logger.Warn("failed to encode pool stats", "error", err)
	}
}
