// Command agenttunnel-gateway runs the policy-enforcement gateway:
// loads the bootstrap config, wires the Credential Store, Tunnel
// Registry, and Pipeline Run Store, and serves the Authenticator, Policy
// Evaluator, Pipeline State Machine, and Orchestrator API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenttunnel/gateway/internal/adminapi"
	"github.com/agenttunnel/gateway/internal/auth"
	"github.com/agenttunnel/gateway/internal/config"
	"github.com/agenttunnel/gateway/internal/gwlog"
	"github.com/agenttunnel/gateway/internal/httpapi"
	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/policy"
	"github.com/agenttunnel/gateway/internal/ratelimit"
	"github.com/agenttunnel/gateway/internal/store"
	"github.com/agenttunnel/gateway/internal/telemetry"
	"github.com/agenttunnel/gateway/internal/watcher"
)

func main() {
	configFile := flag.String("config", "", "path to a JSON or YAML config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "agenttunnel-gateway:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := gwlog.New(cfg.Logging.Format, cfg.Logging.Level == "debug")
	log.Info("starting agenttunnel-gateway", map[string]interface{}{"port": cfg.Port})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := buildTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	credentials, err := store.LoadCredentialStore(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	tunnels, err := store.LoadTunnelRegistry(cfg.TunnelsFile)
	if err != nil {
		return fmt.Errorf("loading tunnels: %w", err)
	}
	runs, err := store.LoadRunStore(cfg.PipelineStateFile)
	if err != nil {
		return fmt.Errorf("loading pipeline state: %w", err)
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return fmt.Errorf("initializing rate limiter: %w", err)
	}
	defer limiter.Close()

	authenticator := auth.New(credentials, limiter)
	pipelines := pipeline.New(runs, tunnels, tp)
	evaluator := policy.New(tunnels, pipelines, tp)
	admin := adminapi.New(credentials, tunnels, pipelines, log,
		cfg.RateLimit.DefaultWorkerDailyLimit, cfg.RateLimit.DefaultOrchestratorDailyLimit)

	srv := httpapi.New(authenticator, evaluator, pipelines, admin, credentials, tunnels, log,
		cfg.PublicViewerTunnel, cfg.HTTP.MaxBodyBytes)

	cw, err := watcher.New(tunnels, credentials, cfg.TunnelsFile, cfg.CredentialsFile, log)
	if err != nil {
		return fmt.Errorf("initializing config watcher: %w", err)
	}
	go cw.Run()
	defer cw.Stop()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      telemetry.TracingMiddleware("agenttunnel-gateway")(srv.Handler()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received", nil)
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error during graceful shutdown", map[string]interface{}{"error": err.Error()})
	}

	if err := limiter.Close(); err != nil {
		log.Error("error flushing rate limit counters", map[string]interface{}{"error": err.Error()})
	}

	log.Info("stopped", nil)
	return nil
}

func buildTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	if !cfg.Telemetry.Enabled {
		return telemetry.NoOp(), nil
	}
	return telemetry.New(ctx, "agenttunnel-gateway", cfg.Telemetry.Exporter, cfg.Telemetry.OTLPEndpoint)
}

func buildLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RateLimit.RedisURL != "" {
		return ratelimit.NewRedisLimiter(cfg.RateLimit.RedisURL)
	}
	persistPath := cfg.PipelineStateFile + ".ratelimit.json"
	return ratelimit.NewInMemoryLimiter(persistPath, cfg.RateLimit.PersistEvery)
}
