package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Renkoflow   RenkoflowConfig    `yaml:"renkoflow"`
	Logging     LoggingConfig      `yaml:"logging"`
	Source      SourceConfig       `yaml:"source"`
	Reader      ReaderConfig       `yaml:"reader"`
	Cache       CacheConfig        `yaml:"cache"`
	Indicator   IndicatorConfig    `yaml:"indicator"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Export      ExportConfig       `yaml:"export"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Instruments []InstrumentConfig `yaml:"instruments"`
}

type RenkoflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type SourceConfig struct {
	Exchange  string          `yaml:"exchange"`
	Binance   BinanceConfig   `yaml:"binance"`
	Bybit     BybitConfig     `yaml:"bybit"`
	Kucoin    KucoinConfig    `yaml:"kucoin"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type BinanceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	WsURL          string               `yaml:"ws_url"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type BybitConfig struct {
	BaseURL string `yaml:"base_url"`
}

type KucoinConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ReaderConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type IndicatorConfig struct {
	ATR      ATRConfig      `yaml:"atr"`
	Renko    RenkoConfig    `yaml:"renko"`
	StochRSI StochRSIConfig `yaml:"stoch_rsi"`
}

type ATRConfig struct {
	Period     int     `yaml:"period"`
	Multiplier float64 `yaml:"multiplier"`
}

type RenkoConfig struct {
	Default     BrickLimitsConfig            `yaml:"default"`
	Instruments map[string]BrickLimitsConfig `yaml:"instruments"`
}

type BrickLimitsConfig struct {
	TickSize     float64 `yaml:"tick_size"`
	MinBrickSize float64 `yaml:"min_brick_size"`
	MaxBrickSize float64 `yaml:"max_brick_size"`
}

type StochRSIConfig struct {
	RSIPeriod   int `yaml:"rsi_period"`
	StochPeriod int `yaml:"stoch_period"`
	KSmoothing  int `yaml:"k_smoothing"`
	DSmoothing  int `yaml:"d_smoothing"`
}

type PipelineConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ExportConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Directory    string             `yaml:"directory"`
	S3           S3Config           `yaml:"s3"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type InstrumentConfig struct {
	Symbol     string   `yaml:"symbol"`
	Timeframes []string `yaml:"timeframes"`
	Limit      int      `yaml:"limit"`
}

// BrickLimits returns the per-instrument brick sizing limits, falling back to
// the configured default when the symbol has no dedicated entry.
func (c *Config) BrickLimits(symbol string) BrickLimitsConfig {
	if lim, ok := c.Indicator.Renko.Instruments[symbol]; ok {
		return lim
	}
	return c.Indicator.Renko.Default
}

func applyDefaults(cfg *Config) {
	if cfg.Source.Exchange == "" {
		cfg.Source.Exchange = "binance"
	}
	if cfg.Source.RateLimit.RequestsPerSecond <= 0 {
		cfg.Source.RateLimit.RequestsPerSecond = 5
	}
	if cfg.Source.RateLimit.BurstSize <= 0 {
		cfg.Source.RateLimit.BurstSize = 10
	}
	if cfg.Reader.Timeout <= 0 {
		cfg.Reader.Timeout = 10 * time.Second
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		cfg.Reader.Retry.MaxAttempts = 3
	}
	if cfg.Reader.Retry.BaseDelay <= 0 {
		cfg.Reader.Retry.BaseDelay = time.Second
	}
	if cfg.Reader.Retry.MaxDelay <= 0 {
		cfg.Reader.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Reader.Retry.BackoffMultiplier <= 0 {
		cfg.Reader.Retry.BackoffMultiplier = 2
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 300 * time.Second
	}
	if cfg.Indicator.ATR.Period <= 0 {
		cfg.Indicator.ATR.Period = 14
	}
	if cfg.Indicator.ATR.Multiplier <= 0 {
		cfg.Indicator.ATR.Multiplier = 1.0
	}
	if cfg.Indicator.StochRSI.RSIPeriod <= 0 {
		cfg.Indicator.StochRSI.RSIPeriod = 14
	}
	if cfg.Indicator.StochRSI.StochPeriod <= 0 {
		cfg.Indicator.StochRSI.StochPeriod = 14
	}
	if cfg.Indicator.StochRSI.KSmoothing <= 0 {
		cfg.Indicator.StochRSI.KSmoothing = 3
	}
	if cfg.Indicator.StochRSI.DSmoothing <= 0 {
		cfg.Indicator.StochRSI.DSmoothing = 3
	}
	if cfg.Pipeline.MaxWorkers <= 0 {
		cfg.Pipeline.MaxWorkers = 4
	}
	if cfg.Pipeline.RequestTimeout <= 0 {
		cfg.Pipeline.RequestTimeout = 30 * time.Second
	}
	if cfg.Export.Directory == "" {
		cfg.Export.Directory = "export"
	}
	if cfg.Export.Partitioning.TimeFormat == "" {
		cfg.Export.Partitioning.TimeFormat = "date={year}-{month}-{day}"
	}
}

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentDevelopment: "config/config.development.yml",
	environmentStaging:     "config/config.staging.yml",
	environmentProduction:  "config/config.production.yml",
}

func LoadConfig(path string) (*Config, error) {
	// Prefer an environment specific file when one exists on disk.
	if resolved := resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths); resolved != path {
		if _, err := os.Stat(resolved); err == nil {
			path = resolved
		}
	}

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Export.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Export.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Export.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Export.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Export.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Export.S3.Bucket = strings.TrimSpace(config.Export.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Renkoflow.Name == "" {
		return fmt.Errorf("renkoflow.name is required")
	}

	if cfg.Renkoflow.Version == "" {
		return fmt.Errorf("renkoflow.version is required")
	}

	switch cfg.Source.Exchange {
	case "binance", "bybit", "kucoin":
	default:
		return fmt.Errorf("source.exchange '%s' is not supported", cfg.Source.Exchange)
	}

	if cfg.Indicator.Renko.Default.TickSize < 0 {
		return fmt.Errorf("indicator.renko.default.tick_size must not be negative")
	}
	for sym, lim := range cfg.Indicator.Renko.Instruments {
		if lim.MaxBrickSize > 0 && lim.MinBrickSize > lim.MaxBrickSize {
			return fmt.Errorf("indicator.renko.instruments.%s: min_brick_size above max_brick_size", sym)
		}
	}

	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments entries require a symbol")
		}
		if len(inst.Timeframes) == 0 {
			return fmt.Errorf("instruments.%s requires at least one timeframe", inst.Symbol)
		}
	}

	if cfg.Export.S3.Enabled {
		if cfg.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required when S3 is enabled")
		}
		if cfg.Export.S3.Region == "" {
			return fmt.Errorf("export.s3.region is required when S3 is enabled")
		}
		// Development deployments may rely on the default AWS credential
		// chain; production-like ones must be explicit.
		if (cfg.Export.S3.AccessKeyID == "" || cfg.Export.S3.SecretAccessKey == "") && IsProductionLike(AppEnvironment()) {
			return fmt.Errorf("export.s3.access_key_id and export.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Export.S3.Bucket) {
			return fmt.Errorf("export.s3.bucket '%s' is invalid", cfg.Export.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
