// Command taskgraphd starts the goal-to-DAG orchestrator: an HTTP server
// that turns a natural-language goal into a validated execution plan,
// runs it with bounded parallelism, and streams progress over SSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/driftkit/taskgraph/bridge"
	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/executor"
	"github.com/driftkit/taskgraph/graph"
	"github.com/driftkit/taskgraph/httpapi"
	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/planner"
	"github.com/driftkit/taskgraph/telemetry"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("taskgraphd: configuration error: %v", err)
	}
	logger := cfg.Logger()

	shutdownTracing, err := initTracing(cfg)
	if err != nil {
		logger.Warn("tracing disabled: failed to init trace provider", map[string]interface{}{
			"error": err.Error(),
		})
		shutdownTracing = func(context.Context) error { return nil }
	}

	geminiClient := gemini.NewClient(
		cfg.Gemini.APIKey,
		cfg.Gemini.BaseURL,
		cfg.Gemini.Model,
		cfg.Gemini.Timeout,
		gemini.WithTelemetry(telemetry.NewTracer("gemini")),
		gemini.WithLogger(logger),
	)

	plnr := planner.New(geminiClient, cfg.Planning.MaxGoalLength, logger)
	appState := &graph.AppState{GeminiClient: geminiClient}

	sessionStore := newSessionStore(cfg, logger)
	exec := executor.New(logger, telemetry.NewTracer("executor"), sessionStore)

	bridgeManager := bridge.NewManager(cfg.Bridge.ScriptPath, logger, telemetry.NewTracer("bridge"))

	handlers := httpapi.NewHandlers(cfg, plnr, appState, exec, bridgeManager)
	server := httpapi.NewServer(cfg, handlers)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("taskgraphd listening", map[string]interface{}{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	bridgeManager.KillAll()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

// initTracing picks the OTLP gRPC exporter when Config.Tracing.OTLPEndpoint
// names a collector, otherwise falls back to the stdout exporter — a
// production deployment sets OTLP_ENDPOINT without touching any call site,
// since every span-emitting component only ever depends on core.Telemetry.
func initTracing(cfg *core.Config) (func(context.Context) error, error) {
	if cfg.Tracing.OTLPEndpoint != "" {
		return telemetry.InitOTLPProvider(context.Background(), cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	}
	return telemetry.InitStdoutProvider(cfg.Tracing.ServiceName)
}

// newSessionStore picks the Redis-backed durable store when REDIS_URL is
// set, otherwise falls back to the in-process store.
func newSessionStore(cfg *core.Config, logger core.Logger) executor.SessionStore {
	if !cfg.Redis.Enabled() {
		return executor.NewInMemorySessionStore()
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid REDIS_URL, falling back to in-memory session store", map[string]interface{}{
			"error": err.Error(),
		})
		return executor.NewInMemorySessionStore()
	}

	client := redis.NewClient(opts)
	return executor.NewRedisSessionStore(client, cfg.Redis.Prefix, 24*time.Hour, logger)
}
