package main

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hirecall/internal/core/services"
	httphandlers "hirecall/internal/handlers/http"
	"hirecall/internal/infrastructure/middleware"
	"hirecall/internal/infrastructure/monitoring"
	repositories "hirecall/internal/infrastructure/repositories"
	signaling "hirecall/internal/infrastructure/signal"
	"hirecall/pkg/config"
	"hirecall/pkg/logger"
	"hirecall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	_ = godotenv.Load()
	cfg := loadConfig(*configPath)

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "hirecall-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	callService := services.NewCallService(repoFactory.CreateCallRepository(), log)
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		callService,
	)

	registry := monitoring.NewRegistry()
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
		log.Info("Prometheus metrics enabled")
	}

	relay := signaling.NewRelayServer(callService, monitoring.NewRelayCollector(registry), relayOptions(cfg), zapLogger)

	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(repoFactory, 15*time.Second, 2*time.Second)
	checker.AddRelayCheck(relay.Stats, 10000, 15*time.Second)

	checkCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()
	checker.StartBackgroundChecks(checkCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)
	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	httphandlers.NewCallHandler(callService, authService, relay, log).SetupRoutes(api)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Auth.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Websocket connections are long-lived; the relay sets its own deadlines.
		WriteTimeout: 0,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting hirecall relay", "address", cfg.Server.Address, "backend", repoFactory.Backend())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down hirecall relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	relay.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("hirecall relay stopped")
}

func loadConfig(path string) *config.Config {
	paths := []string{"configs/config.yaml", "./configs/config.yaml", "config.yaml"}
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if cfg, err := config.Load(p); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func relayOptions(cfg *config.Config) signaling.RelayOptions {
	opts := signaling.DefaultRelayOptions()
	opts.PingInterval = cfg.Server.PingInterval
	opts.PongTimeout = cfg.Server.PongTimeout
	opts.ReplayBacklog = cfg.Server.ReplayBacklog
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		opts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	opts.CheckOrigin = originChecker(cfg.Auth.AllowedOrigins)
	return opts
}

// originChecker accepts requests without an Origin header (native clients)
// and browser requests from an allowed origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[u.Scheme+"://"+u.Host]
	}
}
