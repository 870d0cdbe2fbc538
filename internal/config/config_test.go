package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func validConfig() Config {
	return Config{
		DatabaseURL:     "postgres://u:p@localhost/db",
		StagingDir:      "./temp",
		ProcessedDir:    "processed",
		Workers:         3,
		BatchSize:       1000,
		SourceEncoding:  "auto",
		MaxUploadBytes:  1 << 20,
		WatchDebounce:   time.Second,
		ShutdownTimeout: time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		MetricsBackend:  MetricsNone,
	}
}

// Not parallel: these tests read the process environment.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StagingDir != "./temp" || cfg.ProcessedDir != "processed" {
		t.Fatalf("dirs = %q, %q", cfg.StagingDir, cfg.ProcessedDir)
	}
	if cfg.Workers != 3 || cfg.BatchSize != 1000 || !cfg.SerializeTables {
		t.Fatalf("workers=%d batch=%d serialize=%v", cfg.Workers, cfg.BatchSize, cfg.SerializeTables)
	}
	if cfg.ListenAddr != ":8000" || cfg.MaxUploadBytes != 512<<20 {
		t.Fatalf("listen=%q max=%d", cfg.ListenAddr, cfg.MaxUploadBytes)
	}
	if cfg.WatchDebounce != 500*time.Millisecond || cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("debounce=%v shutdown=%v", cfg.WatchDebounce, cfg.ShutdownTimeout)
	}
	if cfg.SourceEncoding != "auto" || cfg.MetricsBackend != MetricsNone {
		t.Fatalf("encoding=%q metrics=%q", cfg.SourceEncoding, cfg.MetricsBackend)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("WORKERS", "7")
	t.Setenv("WATCH", "true")
	t.Setenv("WATCH_DEBOUNCE", "2s")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("SERIALIZE_TABLES", "false")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 7 || !cfg.Watch || cfg.WatchDebounce != 2*time.Second || cfg.MaxUploadBytes != 1024 || cfg.SerializeTables {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_DotEnvFileUnderEnvironment(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	body := "DATABASE_URL=sqlite://from-file.db\nBATCH_SIZE=250\nLOG_FORMAT=json\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCH_SIZE", "500")

	cfg, err := Load(NewViper(), p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "sqlite://from-file.db" || cfg.LogFormat != "json" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.BatchSize != 500 {
		t.Fatalf("batch = %d, want env value 500", cfg.BatchSize)
	}
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(true); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.DatabaseURL = ""
	c.Workers = 0
	c.BatchSize = -1
	c.ProcessedDir = "../out"
	c.SourceEncoding = "ebcdic"
	c.MetricsBackend = "statsd"

	err := c.Validate(true)
	var me *multierror.Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *multierror.Error, got %v", err)
	}
	if len(me.Errors) != 6 {
		t.Fatalf("got %d errors, want 6: %v", len(me.Errors), err)
	}
	for _, key := range []string{KeyDatabaseURL, KeyWorkers, KeyBatchSize, KeyProcessedDir, KeySourceEncoding, KeyMetricsBackend} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error does not mention %s: %v", key, err)
		}
	}
}

func TestValidate_DatabaseOptional(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.DatabaseURL = ""
	if err := c.Validate(false); err != nil {
		t.Fatalf("Validate(false): %v", err)
	}
}

func TestValidate_StorageKind(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.DatabaseURL = "host=localhost user=x"
	if err := c.Validate(true); err == nil {
		t.Fatalf("expected error for DSN with no inferable kind")
	}

	c.StorageKind = "postgres"
	if err := c.Validate(true); err != nil {
		t.Fatalf("explicit kind: %v", err)
	}

	c.StorageKind = "oracle"
	if err := c.Validate(true); err == nil || !strings.Contains(err.Error(), KeyStorageKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}
