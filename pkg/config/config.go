package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brunocascio/amargo/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Cache         CacheConfig
	Targets       TargetConfig
	Observability ObservabilityConfig

	// DefinitionsFile points at the YAML file declaring repositories and
	// groups. Empty means no declarative definitions are loaded.
	DefinitionsFile string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects and configures the blob and metadata backends.
type StorageConfig struct {
	// BlobBackend is "filesystem" or "s3".
	BlobBackend string
	// MetadataBackend is "memory", "postgres", or "sqlite".
	MetadataBackend string

	FilesystemRoot string

	PostgresURL      string
	PostgresMaxConns int
	SQLitePath       string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// RedisURL enables the artifact-row read-through cache when set.
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// CacheConfig tunes the pull-through cache and its eviction loop.
type CacheConfig struct {
	// DefaultTTL applies to cached artifacts whose repository has no TTL
	// of its own.
	DefaultTTL time.Duration

	EvictionSchedule  string
	EvictionBatchSize int

	UpstreamTimeout time.Duration
}

// TargetConfig names the repository or group each protocol surface
// serves. A target resolves to a group first, then a repository.
type TargetConfig struct {
	NPM    string
	PyPI   string
	Docker string
	Go     string
	Maven  string
	NuGet  string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:          loadServerConfig(),
		Storage:         loadStorageConfig(),
		Cache:           loadCacheConfig(),
		Targets:         loadTargetConfig(),
		Observability:   loadObservabilityConfig(),
		DefinitionsFile: getEnv("AMARGO_DEFINITIONS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AMARGO_HOST", "0.0.0.0"),
		Port:            getEnv("AMARGO_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AMARGO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AMARGO_WRITE_TIMEOUT", 10*time.Minute),
		IdleTimeout:     getEnvDuration("AMARGO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AMARGO_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("AMARGO_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		BlobBackend:     getEnv("AMARGO_BLOB_BACKEND", "filesystem"),
		MetadataBackend: getEnv("AMARGO_METADATA_BACKEND", "memory"),

		FilesystemRoot: getEnv("AMARGO_FILESYSTEM_ROOT", "/var/lib/amargo"),

		PostgresURL:      getEnv("AMARGO_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("AMARGO_POSTGRES_MAX_CONNS", 25),
		SQLitePath:       getEnv("AMARGO_SQLITE_PATH", ""),

		S3Endpoint:     getEnv("AMARGO_S3_ENDPOINT", ""),
		S3Region:       getEnv("AMARGO_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("AMARGO_S3_BUCKET", ""),
		S3AccessKey:    getEnv("AMARGO_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("AMARGO_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("AMARGO_S3_USE_PATH_STYLE", false),

		RedisURL:      getEnv("AMARGO_REDIS_URL", ""),
		RedisPassword: getEnv("AMARGO_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("AMARGO_REDIS_DB", 0),
		RedisTTL:      getEnvDuration("AMARGO_REDIS_TTL", 5*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL:        getEnvDuration("AMARGO_CACHE_DEFAULT_TTL", 30*24*time.Hour),
		EvictionSchedule:  getEnv("AMARGO_EVICTION_SCHEDULE", "@every 1h"),
		EvictionBatchSize: getEnvInt("AMARGO_EVICTION_BATCH_SIZE", 100),
		UpstreamTimeout:   getEnvDuration("AMARGO_UPSTREAM_TIMEOUT", 5*time.Minute),
	}
}

func loadTargetConfig() TargetConfig {
	return TargetConfig{
		NPM:    getEnv("AMARGO_TARGET_NPM", "npm"),
		PyPI:   getEnv("AMARGO_TARGET_PYPI", "pypi"),
		Docker: getEnv("AMARGO_TARGET_DOCKER", "docker"),
		Go:     getEnv("AMARGO_TARGET_GO", "go"),
		Maven:  getEnv("AMARGO_TARGET_MAVEN", "maven"),
		NuGet:  getEnv("AMARGO_TARGET_NUGET", "nuget"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("AMARGO_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("AMARGO_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AMARGO_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AMARGO_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AMARGO_OTEL_SERVICE_NAME", "amargo"),
		OTelServiceVersion: getEnv("AMARGO_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AMARGO_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.BlobBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Storage.BlobBackend)
	}

	switch c.Storage.MetadataBackend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres metadata storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite metadata storage")
		}
	default:
		return fmt.Errorf("invalid metadata backend: %s (must be memory, postgres, or sqlite)", c.Storage.MetadataBackend)
	}

	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive")
	}
	if c.Cache.EvictionBatchSize <= 0 {
		return fmt.Errorf("eviction batch size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string.
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
