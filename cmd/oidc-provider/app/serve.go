package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	oidc "github.com/giantswarm/oidc-provider"
	"github.com/giantswarm/oidc-provider/instrumentation"
)

const (
	gracefulTimeout    = 30 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
	requestTimeout     = 10 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenID Connect provider",
		Long: `Run the provider with its built-in login page.

Endpoints are served below the base path (default /oidc); discovery documents
are also served from /.well-known. A bearer protected /api/me endpoint returns
the claims of the presented access token.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.listenAddr, "listen-addr", "", "Address to listen on (overrides listen_addr)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if opts.listenAddr != "" {
		cfg.ListenAddr = opts.listenAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	provider, login, cleanup, err := openProvider(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRouter(cfg, logger, provider, login, registry),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("OIDC provider listening", "address", cfg.ListenAddr, "issuer", cfg.Issuer, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// openProvider opens storage and builds the provider. registry is nil when
// metrics are disabled.
func openProvider(ctx context.Context, cfg Config, logger *slog.Logger, registry *prometheus.Registry) (*oidc.Provider, *loginService, func(), error) {
	persister, closePersister, err := openPersister(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	login, err := newLoginService(cfg, logger)
	if err != nil {
		closePersister()
		return nil, nil, nil, err
	}

	pc, err := cfg.providerConfig(logger)
	if err != nil {
		closePersister()
		return nil, nil, nil, err
	}
	if registry != nil {
		pc.Instrumentation.MetricsExporter = instrumentation.MetricsExporterPrometheus
		pc.Instrumentation.PrometheusRegisterer = registry
	}

	provider, err := oidc.NewProvider(ctx, persister, login, login, pc)
	if err != nil {
		closePersister()
		return nil, nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("Failed to close provider", "error", err)
		}
		closePersister()
	}
	return provider, login, cleanup, nil
}

func newRouter(cfg Config, logger *slog.Logger, provider *oidc.Provider, login *loginService, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	provider.Handler().RegisterRoutes(mux)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		accessLog(logger),
	)

	r.Handle(cfg.BasePath+"/*", mux)
	r.Handle("/.well-known/*", mux)

	r.Get(cfg.LoginPath, login.ServeLogin)
	r.Post(cfg.LoginPath, login.ServeLogin)

	r.With(provider.Handler().RequireBearer).Get("/api/me", serveMe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	return r
}

// serveMe returns the claims of the bearer token.
func serveMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sub":   claims.Subject,
		"aud":   claims.Audience,
		"scope": claims.Scope,
		"exp":   claims.ExpiresAt.Unix(),
	})
}
