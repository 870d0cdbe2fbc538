// Package config loads csvload settings from an optional .env file and the
// environment through viper. Command-line flags are bound on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"csvload/internal/parser/csv"
	"csvload/internal/storage"
)

// Config keys. The matching environment variable is the upper-cased key.
const (
	KeyDatabaseURL     = "database_url"
	KeyStorageKind     = "storage_kind"
	KeyStagingDir      = "staging_dir"
	KeyProcessedDir    = "processed_dir"
	KeyWorkers         = "workers"
	KeyBatchSize       = "batch_size"
	KeySerializeTables = "serialize_tables"
	KeySourceEncoding  = "source_encoding"
	KeyListenAddr      = "listen_addr"
	KeyMaxUploadBytes  = "max_upload_bytes"
	KeyWatch           = "watch"
	KeyWatchDebounce   = "watch_debounce"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyMetricsBackend  = "metrics_backend"
	KeyPushgatewayURL  = "pushgateway_url"
	KeyMetricsTags     = "metrics_tags"
	KeyShutdownTimeout = "shutdown_timeout"
)

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsDatadog     = "datadog"
	MetricsPushgateway = "pushgateway"
)

// Config is the resolved runtime configuration.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	StorageKind string `mapstructure:"storage_kind"`

	StagingDir   string `mapstructure:"staging_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`

	Workers         int    `mapstructure:"workers"`
	BatchSize       int    `mapstructure:"batch_size"`
	SerializeTables bool   `mapstructure:"serialize_tables"`
	SourceEncoding  string `mapstructure:"source_encoding"`

	ListenAddr     string        `mapstructure:"listen_addr"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	Watch          bool          `mapstructure:"watch"`
	WatchDebounce  time.Duration `mapstructure:"watch_debounce"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsBackend string `mapstructure:"metrics_backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	MetricsTags    string `mapstructure:"metrics_tags"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NewViper returns a viper instance with every key defaulted and bound to
// its environment variable.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyStorageKind, "")
	v.SetDefault(KeyStagingDir, "./temp")
	v.SetDefault(KeyProcessedDir, "processed")
	v.SetDefault(KeyWorkers, 3)
	v.SetDefault(KeyBatchSize, 1000)
	v.SetDefault(KeySerializeTables, true)
	v.SetDefault(KeySourceEncoding, csv.EncodingAuto)
	v.SetDefault(KeyListenAddr, ":8000")
	v.SetDefault(KeyMaxUploadBytes, int64(512<<20))
	v.SetDefault(KeyWatch, false)
	v.SetDefault(KeyWatchDebounce, 500*time.Millisecond)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsBackend, MetricsNone)
	v.SetDefault(KeyPushgatewayURL, "http://localhost:9091")
	v.SetDefault(KeyMetricsTags, "")
	v.SetDefault(KeyShutdownTimeout, 30*time.Second)

	v.AutomaticEnv()
	return v
}

// Load reads envFile (dotenv format) when it exists, then decodes v.
// Environment variables win over the file; flags bound to v win over both.
// The result is not validated.
func Load(v *viper.Viper, envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// SourceOptions returns the CSV decoding options derived from cfg.
func (c Config) SourceOptions() csv.Options {
	return csv.Options{Encoding: c.SourceEncoding}
}

// Validate reports every invalid setting at once. Database settings are
// checked only when requireDB is set.
func (c Config) Validate(requireDB bool) error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if requireDB {
		switch {
		case strings.TrimSpace(c.DatabaseURL) == "":
			fail("%s is required", KeyDatabaseURL)
		case c.StorageKind == "":
			if _, err := storage.KindFromDSN(c.DatabaseURL); err != nil {
				fail("%s: %v (set %s)", KeyDatabaseURL, err, KeyStorageKind)
			}
		}
		if c.StorageKind != "" && !knownKind(c.StorageKind) {
			fail("%s=%q is not one of %s", KeyStorageKind, c.StorageKind, strings.Join(kinds, ", "))
		}
	}

	if strings.TrimSpace(c.StagingDir) == "" {
		fail("%s is required", KeyStagingDir)
	}
	if d := c.ProcessedDir; d == "" || d == "." || d == ".." || strings.ContainsAny(d, `/\`) || filepath.Base(d) != d {
		fail("%s=%q must be a plain directory name", KeyProcessedDir, d)
	}
	if c.Workers <= 0 {
		fail("%s must be > 0, got %d", KeyWorkers, c.Workers)
	}
	if c.BatchSize <= 0 {
		fail("%s must be > 0, got %d", KeyBatchSize, c.BatchSize)
	}
	if !csv.ValidEncoding(c.SourceEncoding) {
		fail("%s=%q is not supported", KeySourceEncoding, c.SourceEncoding)
	}
	if c.MaxUploadBytes <= 0 {
		fail("%s must be > 0, got %d", KeyMaxUploadBytes, c.MaxUploadBytes)
	}
	if c.WatchDebounce < 0 {
		fail("%s must not be negative", KeyWatchDebounce)
	}
	if c.ShutdownTimeout <= 0 {
		fail("%s must be > 0", KeyShutdownTimeout)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("%s=%q is not one of debug, info, warn, error", KeyLogLevel, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		fail("%s=%q is not one of text, json", KeyLogFormat, c.LogFormat)
	}

	switch c.MetricsBackend {
	case "", MetricsNone, MetricsDatadog:
	case MetricsPushgateway:
		if strings.TrimSpace(c.PushgatewayURL) == "" {
			fail("%s is required when %s=%s", KeyPushgatewayURL, KeyMetricsBackend, MetricsPushgateway)
		}
	default:
		fail("%s=%q is not one of none, datadog, pushgateway", KeyMetricsBackend, c.MetricsBackend)
	}

	return result.ErrorOrNil()
}

var kinds = []string{storage.KindPostgres, storage.KindSQLite, storage.KindMSSQL, storage.KindMySQL}

func knownKind(k string) bool {
	for _, s := range kinds {
		if s == k {
			return true
		}
	}
	return false
}
