package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/fee-divider/internal/application"
	"github.com/eugenenazirov/fee-divider/internal/config"
	"github.com/eugenenazirov/fee-divider/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("fee-divider", "Fee Divider - splits a freight fee across parcels in fixed monetary units")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a dotenv file loaded before reading the environment").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	mode := kingpinApp.Flag("mode", "Default dividing mode (10, 100, 1000 or tens, hundreds, thousands)").String()
	minFeeFlag := kingpinApp.Flag("min-fee", "Minimum fee per parcel (set -1 to keep configured value)").Default("-1").Int64()
	maxCombinationsFlag := kingpinApp.Flag("max-combinations", "Maximum combinations per enumeration (set 0 to disable)").Default("-1").Int()
	maxParcelsFlag := kingpinApp.Flag("max-parcels", "Maximum parcels per enumeration (set 0 to disable)").Default("-1").Int()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *mode != "" {
		overrides.DividingMode = mode
	}

	if *minFeeFlag >= 0 {
		minFee := uint64(*minFeeFlag)
		overrides.MinFee = &minFee
	}

	if *maxCombinationsFlag >= 0 {
		overrides.MaxCombinations = maxCombinationsFlag
	}

	if *maxParcelsFlag >= 0 {
		overrides.MaxParcels = maxParcelsFlag
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	logger.Info("fee policy loaded",
		zap.Stringer("default_mode", cfg.DefaultMode),
		zap.Uint64("min_fee", cfg.MinFee),
		zap.Int("max_combinations", cfg.MaxCombinations),
		zap.Int("max_parcels", cfg.MaxParcels),
		zap.Duration("compute_timeout", cfg.ComputeTimeout),
	)

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
