package config

import (
	"testing"
	"time"

	"github.com/brunocascio/amargo/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("HealthPort = %q, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Storage.BlobBackend != "filesystem" {
		t.Errorf("BlobBackend = %q, want filesystem", cfg.Storage.BlobBackend)
	}
	if cfg.Storage.MetadataBackend != "memory" {
		t.Errorf("MetadataBackend = %q, want memory", cfg.Storage.MetadataBackend)
	}
	if cfg.Cache.DefaultTTL != 30*24*time.Hour {
		t.Errorf("DefaultTTL = %v, want 720h", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.EvictionSchedule != "@every 1h" {
		t.Errorf("EvictionSchedule = %q", cfg.Cache.EvictionSchedule)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AMARGO_PORT", "9999")
	t.Setenv("AMARGO_BLOB_BACKEND", "s3")
	t.Setenv("AMARGO_S3_BUCKET", "artifacts")
	t.Setenv("AMARGO_METADATA_BACKEND", "postgres")
	t.Setenv("AMARGO_POSTGRES_URL", "postgres://localhost/amargo")
	t.Setenv("AMARGO_CACHE_DEFAULT_TTL", "48h")
	t.Setenv("AMARGO_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.BlobBackend != "s3" || cfg.Storage.S3Bucket != "artifacts" {
		t.Errorf("S3 config = %+v", cfg.Storage)
	}
	if cfg.Cache.DefaultTTL != 48*time.Hour {
		t.Errorf("DefaultTTL = %v, want 48h", cfg.Cache.DefaultTTL)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
			Storage: StorageConfig{BlobBackend: "filesystem", MetadataBackend: "memory", FilesystemRoot: "/tmp"},
			Cache:   CacheConfig{DefaultTTL: time.Hour, EvictionBatchSize: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: true},
		{name: "unknown blob backend", mutate: func(c *Config) { c.Storage.BlobBackend = "gcs" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.BlobBackend = "s3" }, wantErr: true},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.MetadataBackend = "postgres" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.MetadataBackend = "sqlite" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.DefaultTTL = 0 }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Cache.EvictionBatchSize = 0 }, wantErr: true},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "amargo"
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"ERROR", observability.ErrorLevel},
		{"bogus", observability.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
