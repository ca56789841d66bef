package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokengate/internal/api"
	"tokengate/internal/clock"
	"tokengate/internal/config"
	"tokengate/internal/logger"
	"tokengate/internal/models"
	"tokengate/internal/observability"
	"tokengate/internal/ratelimit"
	"tokengate/internal/stats"
	"tokengate/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example", "", "Write an example configuration file to this path and exit")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	info := version.GetInfo()
	if *showVersion {
		fmt.Println(info.String())
		return
	}

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *writeExample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, info)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, info,
		observability.WithGatewayAttributes(cfg.RateLimit, cfg.Stats.Type))
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	store := ratelimit.NewStore(ratelimit.StoreOptionsFromConfig(cfg.RateLimit)...)
	if cfg.RateLimit.IdleTTL > 0 {
		store.StartJanitor(rootCtx, clock.System{}, cfg.RateLimit.CleanupInterval, cfg.RateLimit.IdleTTL)
	}

	// Initialize decision statistics
	dispatcher, recorder, err := initializeStats(rootCtx, cfg)
	if err != nil {
		slog.Error("Failed to initialize stats", "error", err)
		os.Exit(1)
	}
	if recorder != nil {
		defer recorder.Close()
	}

	handlerOpts := []api.HandlerOption{}
	if dispatcher != nil {
		handlerOpts = append(handlerOpts, api.WithStats(dispatcher, cfg.Stats.Type))
	}
	handlers := api.NewHandlers(store, info, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.RateLimit.Enabled {
		middleware, err := initializeRateLimiter(cfg, store, dispatcher, otelProvider)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		routeOpts = append(routeOpts, api.WithRateLimiter(middleware))
	} else {
		slog.Warn("Rate limiting is disabled; all requests will be admitted")
	}

	router := api.SetupRoutes(handlers, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", info.Version)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Flush pending decisions once no handler can enqueue more.
	if dispatcher != nil {
		if err := dispatcher.Close(ctx); err != nil {
			slog.Error("Stats dispatcher did not drain", "error", err, "dropped", dispatcher.Dropped())
		}
	}

	stop()
	slog.Info("Server shutdown complete")
}

// initializeStats creates the configured recorder and the dispatcher feeding
// it. Both are nil when stats are disabled.
func initializeStats(ctx context.Context, cfg *models.Config) (*stats.Dispatcher, stats.Recorder, error) {
	recorder, err := stats.NewFactory().Create(ctx, cfg.Stats)
	if err != nil {
		return nil, nil, err
	}
	if recorder == nil {
		slog.Info("Decision statistics disabled")
		return nil, nil, nil
	}

	var active stats.Recorder = recorder
	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.NewInstrumentedRecorder(recorder, cfg.Stats.Type)
		if err != nil {
			recorder.Close()
			return nil, nil, fmt.Errorf("instrument stats recorder: %w", err)
		}
		active = instrumented
	}

	slog.Info("Decision statistics enabled", "backend", cfg.Stats.Type, "buffer_size", cfg.Stats.BufferSize)
	dispatcher := stats.NewDispatcher(active, cfg.Stats.BufferSize,
		stats.WithWriteTimeout(cfg.Stats.Timeout),
		stats.WithDispatcherLogger(slog.Default()),
	)
	return dispatcher, active, nil
}

// initializeRateLimiter builds the limiter and its HTTP middleware.
func initializeRateLimiter(cfg *models.Config, store *ratelimit.Store, dispatcher *stats.Dispatcher, provider *observability.Provider) (func(http.Handler) http.Handler, error) {
	policy, err := ratelimit.ParseAnonymousPolicy(cfg.RateLimit.AnonymousPolicy)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(store, ratelimit.PolicyFromConfig(cfg.RateLimit),
		ratelimit.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}

	var observers []ratelimit.Observer
	if dispatcher != nil {
		observers = append(observers, dispatcher)
	}
	if provider.MetricsEnabled() {
		decisionMetrics, err := observability.NewDecisionMetrics(nil, store)
		if err != nil {
			return nil, fmt.Errorf("decision metrics: %w", err)
		}
		observers = append(observers, decisionMetrics)
	}

	slog.Info("Rate limiter configured",
		"endpoints", len(cfg.RateLimit.Endpoints),
		"anonymous_policy", policy,
		"shards", cfg.RateLimit.Shards,
		"max_keys", cfg.RateLimit.MaxKeys,
		"idle_ttl", cfg.RateLimit.IdleTTL)

	return ratelimit.Middleware(limiter, ratelimit.Options{
		AnonymousPolicy: policy,
		Headers:         cfg.RateLimit.Headers,
		Observers:       observers,
		Logger:          slog.Default(),
	}), nil
}
