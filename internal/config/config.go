package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/fee-divider/internal/calculator"
)

const (
	defaultPort            = "8080"
	defaultEnvFile         = ".env"
	defaultMinFee          = 3000
	defaultMaxCombinations = 5000
	defaultMaxParcels      = 10_000
	defaultCacheShards     = 16
	defaultRateLimitRPS    = 25.0
	defaultRateLimitBurst  = 50
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	DefaultMode          calculator.DividingMode
	MinFee               uint64
	MaxCombinations      int
	MaxParcels           int
	ComputeTimeout       time.Duration
	CacheShards          int
	ParcelBaseFee        uint64
	FreightBaseFee       uint64
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	LogLevel             string
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	DividingMode         string        `yaml:"dividing_mode"`
	MinFee               *uint64       `yaml:"min_fee"`
	MaxCombinations      *int          `yaml:"max_combinations"`
	MaxParcels           *int          `yaml:"max_parcels"`
	ComputeTimeout       string        `yaml:"compute_timeout"`
	CacheShards          int           `yaml:"cache_shards"`
	BaseFees             yamlBaseFees  `yaml:"base_fees"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	LogLevel             string        `yaml:"log_level"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlBaseFees represents the per-shipping-type base fees in YAML.
type yamlBaseFees struct {
	Parcel  uint64 `yaml:"parcel"`
	Freight uint64 `yaml:"freight"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// envConfig lists the environment variables understood by the service.
// Unset variables leave the corresponding field untouched.
type envConfig struct {
	Port            string                  `env:"PORT"`
	DividingMode    calculator.DividingMode `env:"DIVIDING_MODE"`
	MinFee          uint64                  `env:"MIN_FEE"`
	MaxCombinations int                     `env:"MAX_COMBINATIONS"`
	MaxParcels      int                     `env:"MAX_PARCELS"`
	ComputeTimeout  time.Duration           `env:"COMPUTE_TIMEOUT"`
	CacheShards     int                     `env:"CACHE_SHARDS"`
	ParcelBaseFee   uint64                  `env:"PARCEL_BASE_FEE"`
	FreightBaseFee  uint64                  `env:"FREIGHT_BASE_FEE"`
	LogLevel        string                  `env:"LOG_LEVEL"`
	RateLimitRPS    float64                 `env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int                     `env:"RATE_LIMIT_BURST"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile      string
	EnvFile         string
	Port            *string
	DividingMode    *string
	MinFee          *uint64
	MaxCombinations *int
	MaxParcels      *int
	LogLevel        *string
	RateLimitRPS    *float64
	RateLimitBurst  *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
//
// Variables from the env file (".env" unless overridden) are loaded first and
// never replace variables already present in the process environment.
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	envFile := defaultEnvFile
	if overrides != nil && overrides.EnvFile != "" {
		envFile = overrides.EnvFile
	}
	if err := loadEnvFile(envFile, overrides != nil && overrides.EnvFile != ""); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	// YAML takes precedence over the environment.
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// BaseFees returns the configured base fee per shipping type.
func (c Config) BaseFees() map[calculator.ShippingType]uint64 {
	return map[calculator.ShippingType]uint64{
		calculator.Parcel:  c.ParcelBaseFee,
		calculator.Freight: c.FreightBaseFee,
	}
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		DefaultMode:          calculator.ByThousands,
		MinFee:               defaultMinFee,
		MaxCombinations:      defaultMaxCombinations,
		MaxParcels:           defaultMaxParcels,
		ComputeTimeout:       2 * time.Second,
		CacheShards:          defaultCacheShards,
		ParcelBaseFee:        calculator.DefaultBaseFees[calculator.Parcel],
		FreightBaseFee:       calculator.DefaultBaseFees[calculator.Freight],
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		LogLevel:             "info",
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadEnvFile loads variables from path. A missing file is only an error when
// it was requested explicitly.
func loadEnvFile(path string, required bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	if yamlCfg.DividingMode != "" {
		mode, err := calculator.ParseDividingMode(yamlCfg.DividingMode)
		if err != nil {
			return err
		}
		cfg.DefaultMode = mode
	}

	if yamlCfg.MinFee != nil {
		cfg.MinFee = *yamlCfg.MinFee
	}

	if yamlCfg.MaxCombinations != nil {
		cfg.MaxCombinations = *yamlCfg.MaxCombinations
	}

	if yamlCfg.MaxParcels != nil {
		cfg.MaxParcels = *yamlCfg.MaxParcels
	}

	if yamlCfg.CacheShards > 0 {
		cfg.CacheShards = yamlCfg.CacheShards
	}

	if yamlCfg.BaseFees.Parcel > 0 {
		cfg.ParcelBaseFee = yamlCfg.BaseFees.Parcel
	}

	if yamlCfg.BaseFees.Freight > 0 {
		cfg.FreightBaseFee = yamlCfg.BaseFees.Freight
	}

	durations := []struct {
		raw    string
		target *time.Duration
	}{
		{yamlCfg.ComputeTimeout, &cfg.ComputeTimeout},
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", d.raw, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}

	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	ec := envConfig{
		Port:            cfg.Port,
		DividingMode:    cfg.DefaultMode,
		MinFee:          cfg.MinFee,
		MaxCombinations: cfg.MaxCombinations,
		MaxParcels:      cfg.MaxParcels,
		ComputeTimeout:  cfg.ComputeTimeout,
		CacheShards:     cfg.CacheShards,
		ParcelBaseFee:   cfg.ParcelBaseFee,
		FreightBaseFee:  cfg.FreightBaseFee,
		LogLevel:        cfg.LogLevel,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	}
	if err := env.Parse(&ec); err != nil {
		return err
	}

	cfg.Port = strings.TrimSpace(ec.Port)
	cfg.DefaultMode = ec.DividingMode
	cfg.MinFee = ec.MinFee
	cfg.MaxCombinations = ec.MaxCombinations
	cfg.MaxParcels = ec.MaxParcels
	cfg.ComputeTimeout = ec.ComputeTimeout
	cfg.CacheShards = ec.CacheShards
	cfg.ParcelBaseFee = ec.ParcelBaseFee
	cfg.FreightBaseFee = ec.FreightBaseFee
	cfg.LogLevel = ec.LogLevel
	cfg.RateLimitRPS = ec.RateLimitRPS
	cfg.RateLimitBurst = ec.RateLimitBurst
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.DividingMode != nil && *overrides.DividingMode != "" {
		mode, err := calculator.ParseDividingMode(*overrides.DividingMode)
		if err != nil {
			return fmt.Errorf("parse dividing mode: %w", err)
		}
		cfg.DefaultMode = mode
	}

	if overrides.MinFee != nil {
		cfg.MinFee = *overrides.MinFee
	}

	if overrides.MaxCombinations != nil && *overrides.MaxCombinations >= 0 {
		cfg.MaxCombinations = *overrides.MaxCombinations
	}

	if overrides.MaxParcels != nil && *overrides.MaxParcels >= 0 {
		cfg.MaxParcels = *overrides.MaxParcels
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if !cfg.DefaultMode.Valid() {
		return fmt.Errorf("unsupported dividing mode %d", cfg.DefaultMode)
	}
	if smallest := calculator.ByTens.Unit(); cfg.MinFee%smallest != 0 {
		return fmt.Errorf("MIN_FEE must be a multiple of %d, got %d", smallest, cfg.MinFee)
	}
	if cfg.MaxCombinations < 0 {
		return fmt.Errorf("MAX_COMBINATIONS must be >= 0")
	}
	if cfg.MaxParcels < 0 {
		return fmt.Errorf("MAX_PARCELS must be >= 0")
	}
	if cfg.ComputeTimeout < 0 {
		return fmt.Errorf("COMPUTE_TIMEOUT must be >= 0")
	}
	if cfg.CacheShards <= 0 {
		return fmt.Errorf("CACHE_SHARDS must be > 0")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	return nil
}
