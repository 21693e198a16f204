// Package config loads service configuration from YAML, .env and TRADELAB_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRADELAB_STORAGE_BACKEND.
const EnvPrefix = "TRADELAB"

// Config is the full service configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Snapshots   SnapshotsConfig   `mapstructure:"snapshots"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	EventBus    EventBusConfig    `mapstructure:"eventbus"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Experiments ExperimentsConfig `mapstructure:"experiments"`
	HTTP        HTTPConfig        `mapstructure:"http"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=memory postgres"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"gte=0"`
}

type SnapshotsConfig struct {
	// Backend "same" keeps snapshots in the primary store; "clickhouse" mirrors them there too.
	Backend       string `mapstructure:"backend" validate:"oneof=same clickhouse"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn" validate:"required_if=Backend clickhouse"`
}

type CollectorConfig struct {
	Workers               int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize             int           `mapstructure:"queue_size" validate:"gte=1"`
	EnrichmentTimeout     time.Duration `mapstructure:"enrichment_timeout" validate:"gt=0"`
	EnrichmentConcurrency int64         `mapstructure:"enrichment_concurrency" validate:"gte=1"`
}

type EventBusConfig struct {
	WSURL string `mapstructure:"ws_url" validate:"omitempty,url"`
	Topic string `mapstructure:"topic" validate:"required"`
}

type EnrichmentConfig struct {
	RegimeURL        string        `mapstructure:"regime_url" validate:"omitempty,url"`
	StaticRegime     string        `mapstructure:"static_regime"`
	StaticConfidence float64       `mapstructure:"static_confidence" validate:"gte=0,lte=1"`
	BarsURL          string        `mapstructure:"bars_url" validate:"omitempty,url"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	BaselineCapital      float64 `mapstructure:"baseline_capital" validate:"gt=0"`
	RiskFreeRate         float64 `mapstructure:"risk_free_rate"`
	PeriodsPerYear       int     `mapstructure:"periods_per_year" validate:"gt=0"`
	VaRConfidence        float64 `mapstructure:"var_confidence" validate:"gt=0,lt=1"`
	VaRMinSamples        int     `mapstructure:"var_min_samples" validate:"gte=1"`
	MinTradesForValidity int     `mapstructure:"min_trades_for_validity" validate:"gte=0"`
	ReturnsSource        string  `mapstructure:"returns_source" validate:"oneof=trade equity"`
	Precision            int     `mapstructure:"precision" validate:"gte=0,lte=12"`
}

type AggregationConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	Offset      time.Duration `mapstructure:"offset" validate:"gte=0"`
	PeriodTypes []string      `mapstructure:"period_types" validate:"min=1,dive,oneof=hourly daily weekly monthly all_time"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1"`
	Epoch       time.Time     `mapstructure:"epoch"`
}

type ExperimentsConfig struct {
	MinSampleSize      int     `mapstructure:"min_sample_size" validate:"gte=2"`
	SignificanceMethod string  `mapstructure:"significance_method" validate:"oneof=welch threshold"`
	Alpha              float64 `mapstructure:"alpha" validate:"gt=0,lt=1"`
	ThresholdPct       float64 `mapstructure:"threshold_pct" validate:"gt=0"`
	Seed               uint64  `mapstructure:"seed"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 0)

	v.SetDefault("snapshots.backend", "same")
	v.SetDefault("snapshots.clickhouse_dsn", "")

	v.SetDefault("collector.workers", 8)
	v.SetDefault("collector.queue_size", 256)
	v.SetDefault("collector.enrichment_timeout", "2s")
	v.SetDefault("collector.enrichment_concurrency", 4)

	v.SetDefault("eventbus.ws_url", "")
	v.SetDefault("eventbus.topic", "trades")

	v.SetDefault("enrichment.regime_url", "")
	v.SetDefault("enrichment.static_regime", "")
	v.SetDefault("enrichment.static_confidence", 0.0)
	v.SetDefault("enrichment.bars_url", "")
	v.SetDefault("enrichment.http_timeout", "2s")

	v.SetDefault("metrics.baseline_capital", 100000.0)
	v.SetDefault("metrics.risk_free_rate", 0.0)
	v.SetDefault("metrics.periods_per_year", 252)
	v.SetDefault("metrics.var_confidence", 0.95)
	v.SetDefault("metrics.var_min_samples", 10)
	v.SetDefault("metrics.min_trades_for_validity", 10)
	v.SetDefault("metrics.returns_source", "trade")
	v.SetDefault("metrics.precision", 4)

	v.SetDefault("aggregation.interval", "1h")
	v.SetDefault("aggregation.offset", "0s")
	v.SetDefault("aggregation.period_types", []string{"hourly", "daily", "weekly", "monthly", "all_time"})
	v.SetDefault("aggregation.concurrency", 4)
	v.SetDefault("aggregation.epoch", "2020-01-01T00:00:00Z")

	v.SetDefault("experiments.min_sample_size", 20)
	v.SetDefault("experiments.significance_method", "welch")
	v.SetDefault("experiments.alpha", 0.05)
	v.SetDefault("experiments.threshold_pct", 10.0)
	v.SetDefault("experiments.seed", 0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")
}

// New builds a viper instance with defaults, the optional file at path and env overrides.
// A .env file in the working directory is loaded first when present.
func New(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration. An empty path uses defaults and env only.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("mapstructure")
	})
	return v
}

// Validate checks every section.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		// Namespace is "Config.storage.postgres_dsn"; drop the root type.
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		if fe.Param() != "" {
			return fmt.Errorf("invalid config %s: %s=%s", key, fe.Tag(), fe.Param())
		}
		return fmt.Errorf("invalid config %s: %s", key, fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}
