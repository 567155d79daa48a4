// Package config loads pipeline settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"affordability-pipeline/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Environments.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Data sources.
const (
	SourceLocal = "local"
	SourceAPI   = "api"
)

// EnvPrefix namespaces environment overrides, e.g. AFFORD_PIPELINE_WORKERS.
const EnvPrefix = "AFFORD"

type APIConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Key               string `mapstructure:"key"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	PageSize          int    `mapstructure:"page_size"`
	FinancialEndpoint string `mapstructure:"financial_endpoint"`
	ProductEndpoint   string `mapstructure:"product_endpoint"`
}

type PipelineConfig struct {
	Workers       int    `mapstructure:"workers"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	RetryInitial  string `mapstructure:"retry_initial"`
	RetryMax      string `mapstructure:"retry_max"`
	Schedule      string `mapstructure:"schedule"`
}

// ThresholdConfig carries thresholds as decimal strings so no precision is
// lost on the way to model.Thresholds.
type ThresholdConfig struct {
	IncomeLow          string `mapstructure:"income_low"`
	IncomeHigh         string `mapstructure:"income_high"`
	DebtLow            string `mapstructure:"debt_low"`
	DebtHigh           string `mapstructure:"debt_high"`
	BurdenLow          string `mapstructure:"burden_low"`
	BurdenHigh         string `mapstructure:"burden_high"`
	WarningPct         string `mapstructure:"warning_pct"`
	MissingRequiredPct string `mapstructure:"missing_required_pct"`
	OutlierIQR         string `mapstructure:"outlier_iqr"`
	MinRecordsRequired int    `mapstructure:"min_records_required"`
	GreenBuffer        string `mapstructure:"green_buffer"`
	RedEmergencyMonths string `mapstructure:"red_emergency_months"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AlertConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type SchemaConfig struct {
	File string `mapstructure:"file"`
}

// Config is the full pipeline configuration.
type Config struct {
	Environment   string          `mapstructure:"environment"`
	DataSource    string          `mapstructure:"data_source"`
	DataDir       string          `mapstructure:"data_dir"`
	DBPath        string          `mapstructure:"db_path"`
	CheckpointDir string          `mapstructure:"checkpoint_dir"`
	API           APIConfig       `mapstructure:"api"`
	Pipeline      PipelineConfig  `mapstructure:"pipeline"`
	Thresholds    ThresholdConfig `mapstructure:"thresholds"`
	Log           LogConfig       `mapstructure:"log"`
	Alert         AlertConfig     `mapstructure:"alert"`
	HTTP          HTTPConfig      `mapstructure:"http"`
	Schema        SchemaConfig    `mapstructure:"schema"`
}

var defaults = map[string]any{
	"environment":                     EnvDev,
	"data_source":                     "",
	"data_dir":                        "data",
	"db_path":                         "pipeline.db",
	"checkpoint_dir":                  "data/checkpoints",
	"api.base_url":                    "http://localhost:8000/v1",
	"api.key":                         "",
	"api.timeout_seconds":             30,
	"api.page_size":                   100,
	"api.financial_endpoint":          "financial",
	"api.product_endpoint":            "products",
	"pipeline.workers":                0,
	"pipeline.retry_attempts":         3,
	"pipeline.retry_initial":          "1s",
	"pipeline.retry_max":              "30s",
	"pipeline.schedule":               "",
	"thresholds.income_low":           "3000",
	"thresholds.income_high":          "7000",
	"thresholds.debt_low":             "0.2",
	"thresholds.debt_high":            "0.4",
	"thresholds.burden_low":           "0.5",
	"thresholds.burden_high":          "0.8",
	"thresholds.warning_pct":          "0.05",
	"thresholds.missing_required_pct": "0.10",
	"thresholds.outlier_iqr":          "3",
	"thresholds.min_records_required": 100,
	"thresholds.green_buffer":         "0.5",
	"thresholds.red_emergency_months": "1",
	"log.level":                       "info",
	"log.format":                      "text",
	"alert.nats_url":                  "",
	"alert.subject":                   "affordability.alerts",
	"http.addr":                       ":8080",
	"schema.file":                     "",
}

// legacyEnv maps keys to the bare variable names the ingestion scripts
// used. AFFORD_-prefixed names take precedence over these.
var legacyEnv = map[string]string{
	"environment":                     "ENVIRONMENT",
	"data_source":                     "DATA_SOURCE",
	"data_dir":                        "DATA_DIR",
	"api.base_url":                    "API_BASE_URL",
	"api.key":                         "API_KEY",
	"api.timeout_seconds":             "API_TIMEOUT",
	"thresholds.missing_required_pct": "MAX_MISSING_VALUES_PCT",
	"thresholds.min_records_required": "MIN_RECORDS_REQUIRED",
	"log.level":                       "LOG_LEVEL",
}

// Load reads configuration. path may be empty; envFile is loaded into the
// process environment if it exists, without overriding variables already set.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.DataSource = strings.ToLower(strings.TrimSpace(cfg.DataSource))
	if cfg.DataSource == "" {
		cfg.DataSource = SourceLocal
		if cfg.Environment == EnvProd {
			cfg.DataSource = SourceAPI
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvProd, "staging":
	default:
		return &model.ConfigError{Field: "environment", Reason: fmt.Sprintf("unknown environment %q", c.Environment)}
	}
	switch c.DataSource {
	case SourceLocal:
		if c.DataDir == "" {
			return &model.ConfigError{Field: "data_dir", Reason: "required for local sources"}
		}
	case SourceAPI:
		if c.API.BaseURL == "" {
			return &model.ConfigError{Field: "api.base_url", Reason: "required for API sources"}
		}
	default:
		return &model.ConfigError{Field: "data_source", Reason: fmt.Sprintf("unknown data source %q", c.DataSource)}
	}
	if c.Pipeline.Workers < 0 {
		return &model.ConfigError{Field: "pipeline.workers", Reason: "must not be negative"}
	}
	if c.Pipeline.RetryAttempts < 1 {
		return &model.ConfigError{Field: "pipeline.retry_attempts", Reason: "must be at least 1"}
	}
	if _, err := time.ParseDuration(c.Pipeline.RetryInitial); err != nil {
		return &model.ConfigError{Field: "pipeline.retry_initial", Reason: err.Error()}
	}
	if _, err := time.ParseDuration(c.Pipeline.RetryMax); err != nil {
		return &model.ConfigError{Field: "pipeline.retry_max", Reason: err.Error()}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return &model.ConfigError{Field: "log.level", Reason: err.Error()}
	}
	_, err := c.ThresholdValues()
	return err
}

// ThresholdValues converts the configured thresholds and validates them.
func (c *Config) ThresholdValues() (model.Thresholds, error) {
	tc := c.Thresholds
	th := model.Thresholds{MinRecordsRequired: tc.MinRecordsRequired}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"thresholds.income_low", tc.IncomeLow, &th.IncomeLow},
		{"thresholds.income_high", tc.IncomeHigh, &th.IncomeHigh},
		{"thresholds.debt_low", tc.DebtLow, &th.DebtLow},
		{"thresholds.debt_high", tc.DebtHigh, &th.DebtHigh},
		{"thresholds.burden_low", tc.BurdenLow, &th.BurdenLow},
		{"thresholds.burden_high", tc.BurdenHigh, &th.BurdenHigh},
		{"thresholds.warning_pct", tc.WarningPct, &th.WarningPct},
		{"thresholds.missing_required_pct", tc.MissingRequiredPct, &th.MissingRequiredPct},
		{"thresholds.outlier_iqr", tc.OutlierIQR, &th.OutlierIQR},
		{"thresholds.green_buffer", tc.GreenBuffer, &th.GreenBuffer},
		{"thresholds.red_emergency_months", tc.RedEmergencyMonths, &th.RedEmergencyMonths},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return model.Thresholds{}, &model.ConfigError{Field: f.name, Reason: fmt.Sprintf("not a decimal: %q", f.raw)}
		}
		*f.dst = d
	}
	if err := th.Validate(); err != nil {
		return model.Thresholds{}, err
	}
	return th, nil
}

// RetryDelays returns the parsed retry delays. Validate has already
// rejected malformed values.
func (c *Config) RetryDelays() (initial, maxDelay time.Duration) {
	initial, _ = time.ParseDuration(c.Pipeline.RetryInitial)
	maxDelay, _ = time.ParseDuration(c.Pipeline.RetryMax)
	return initial, maxDelay
}

// APITimeout is the per-request timeout for API sources.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// NewLogger builds the process logger.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	// the ingestion scripts used WARNING and CRITICAL
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARNING":
		s = "WARN"
	case "CRITICAL":
		s = "ERROR"
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
