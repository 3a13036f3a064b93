package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eugenenazirov/fee-divider/internal/api"
	"github.com/eugenenazirov/fee-divider/internal/cache"
	"github.com/eugenenazirov/fee-divider/internal/calculator"
	"github.com/eugenenazirov/fee-divider/internal/config"
	"github.com/eugenenazirov/fee-divider/internal/fees"
	"github.com/eugenenazirov/fee-divider/internal/metrics"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	registry *prometheus.Registry
	cache    *cache.Cache
	service  *fees.Service
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewPrometheus(registry, "")
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	resultCache := cache.New(
		cache.WithShards(cfg.CacheShards),
		cache.WithMetrics(recorder),
		cache.WithLogger(logger.Named("cache")),
	)

	policy := fees.Policy{
		MinFee:          cfg.MinFee,
		MaxCombinations: cfg.MaxCombinations,
		MaxParcels:      cfg.MaxParcels,
		ComputeTimeout:  cfg.ComputeTimeout,
		BaseFees:        cfg.BaseFees(),
	}
	service := fees.NewService(calculator.New(), resultCache, policy,
		fees.WithLogger(logger.Named("fees")),
		fees.WithMetrics(recorder),
	)

	handler := api.NewHandler(service, api.WithDefaultMode(cfg.DefaultMode))
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	server := NewServer(cfg, BuildRootHandler(apiRouter, metricsHandler))

	return &App{
		registry: registry,
		cache:    resultCache,
		service:  service,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   server,
	}, nil
}

// BuildRootHandler routes API requests and, when metricsHandler is non-nil,
// exposes it on /metrics.
func BuildRootHandler(apiHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Registry returns the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
