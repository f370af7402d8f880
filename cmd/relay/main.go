package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wolfman30/chat-relay/cmd/mainconfig"
	"github.com/wolfman30/chat-relay/internal/api/router"
	appconfig "github.com/wolfman30/chat-relay/internal/config"
	"github.com/wolfman30/chat-relay/internal/llm"
	"github.com/wolfman30/chat-relay/internal/observability/metrics"
	"github.com/wolfman30/chat-relay/internal/provider"
	"github.com/wolfman30/chat-relay/internal/relay"
	"github.com/wolfman30/chat-relay/pkg/logging"
)

const awsCredentialTimeout = 5 * time.Second

func main() {
	// A local .env is optional; real deployments use the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chat relay",
		"env", cfg.Env,
		"port", cfg.Port,
		"default_model", cfg.DefaultModel,
	)

	registry, err := buildRegistry(cfg, newSecretLookup(context.Background(), cfg, os.Getenv, logger))
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}
	for _, m := range registry.Models() {
		if !m.Configured {
			logger.Warn("model has no credential configured", "model", m.Model, "provider", m.Kind)
		}
	}

	invokerOpts := []llm.InvokerOption{llm.WithLogger(logger)}
	if registry.HasKind(provider.KindBedrock) {
		awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		invokerOpts = append(invokerOpts, llm.WithBedrock(mainconfig.NewBedrockClient(awsCfg, cfg)))
	}

	metricsHandler, relayMetrics := setupMetrics()
	svc := relay.NewService(registry, llm.NewInvoker(invokerOpts...), relayMetrics, logger, relay.Options{
		HandshakeTimeout:  cfg.UpstreamHandshakeTimeout,
		StreamMaxDuration: cfg.StreamMaxDuration,
	})

	srv := newServer(cfg, router.New(&router.Config{
		Logger:             logger,
		RelayHandler:       relay.NewHandler(svc, registry, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}))

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

// buildRegistry loads provider entries from PROVIDERS_FILE, or the built-in table when
// it is unset. Credentials are looked up once, at startup.
func buildRegistry(cfg *appconfig.Config, lookup provider.SecretLookup) (*provider.Registry, error) {
	entries := provider.DefaultEntries(provider.Defaults{
		GeminiModelID:  cfg.GeminiModelID,
		BedrockModelID: cfg.BedrockModelID,
	})
	if cfg.ProvidersFile != "" {
		loaded, err := provider.LoadEntries(cfg.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.ProvidersFile, err)
		}
		entries = loaded
	}
	return provider.NewRegistry(entries, cfg.DefaultModel, lookup)
}

// newSecretLookup reads credential refs from env, except AWSCredentialChainRef, which is
// resolved through the AWS credential chain so role-based deployments count as configured.
func newSecretLookup(ctx context.Context, cfg *appconfig.Config, env provider.SecretLookup, logger *logging.Logger) provider.SecretLookup {
	return func(ref string) string {
		if ref != provider.AWSCredentialChainRef {
			return env(ref)
		}
		keyID, err := mainconfig.ResolveAWSCredential(ctx, cfg, awsCredentialTimeout)
		if err != nil {
			logger.Warn("aws credentials unavailable", "error", err)
			return ""
		}
		return keyID
	}
}

func setupMetrics() (http.Handler, *metrics.RelayMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewRelayMetrics(reg)
}

// newServer leaves WriteTimeout at zero. Streams are bounded by STREAM_MAX_DURATION.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
