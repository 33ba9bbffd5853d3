// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/despertar/media/internal/storage"
	"github.com/despertar/media/internal/telemetry"
)

// Config holds all runtime configuration for the service.
type Config struct {
	DatabaseURL string // empty disables the object ledger and the sweeper
	JWTSecret   string
	Port        string
	AppEnv      string

	// Object storage (S3-compatible: MinIO locally, any S3 endpoint in production)
	StorageDriver      string
	StorageEndpoint    string // host only, e.g. "localhost"
	StoragePort        int
	StorageUseSSL      bool
	StorageAccessKey   string
	StorageSecretKey   string
	StorageRegion      string
	StorageBucket      string
	StoragePathStyle   bool
	StorageChunkSize   uint64
	StoragePublicBase  string // browser-accessible base URL; empty routes through the proxy
	StorageMaxRetries  int
	StorageTempDir     string
	StoragePlaceholder string

	SweepSchedule string // cron spec; unset or empty disables the sweeper
	SweepGrace    time.Duration

	UploadMaxBytes uint64

	MetricsEndpoint string // OTLP gRPC collector; empty disables export
	MetricsInsecure bool
	MetricsInterval time.Duration

	// EnvFileLoaded reports whether a .env file was read.
	EnvFileLoaded bool
}

// Load reads configuration from a .env file (if present) and environment
// variables. Malformed values are reported together.
func Load() (*Config, error) {
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", envErr)
	}

	var errs *multierror.Error
	p := parser{errs: &errs}

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", "change_me_in_production"),
		Port:        getEnv("PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),

		StorageDriver:      getEnv("STORAGE_DRIVER", storage.DriverMinio),
		StorageEndpoint:    getEnv("STORAGE_ENDPOINT", "localhost"),
		StoragePort:        p.int("STORAGE_PORT", 9000),
		StorageUseSSL:      p.bool("STORAGE_USE_SSL", false),
		StorageAccessKey:   getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:   getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageRegion:      getEnv("STORAGE_REGION", "us-east-1"),
		StorageBucket:      getEnv("STORAGE_BUCKET", "despertar"),
		StoragePathStyle:   p.bool("STORAGE_PATH_STYLE", true),
		StorageChunkSize:   p.bytes("STORAGE_CHUNK_SIZE", "10MiB"),
		StoragePublicBase:  getEnv("STORAGE_PUBLIC_BASE", ""),
		StorageMaxRetries:  p.int("STORAGE_MAX_RETRIES", 3),
		StorageTempDir:     getEnv("STORAGE_TEMP_DIR", ""),
		StoragePlaceholder: getEnv("STORAGE_PLACEHOLDER", ""),

		SweepSchedule: os.Getenv("STORAGE_SWEEP_SCHEDULE"),
		SweepGrace:    p.duration("STORAGE_SWEEP_GRACE", 24*time.Hour),

		UploadMaxBytes: p.bytes("UPLOAD_MAX_BYTES", "50MiB"),

		MetricsEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsInsecure: p.bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		MetricsInterval: p.duration("OTEL_METRIC_EXPORT_INTERVAL", 30*time.Second),

		EnvFileLoaded: envErr == nil,
	}

	switch cfg.StorageDriver {
	case storage.DriverMinio, storage.DriverS3:
	default:
		errs = multierror.Append(errs, fmt.Errorf("STORAGE_DRIVER: unsupported driver %q", cfg.StorageDriver))
	}
	if cfg.StorageBucket == "" {
		errs = multierror.Append(errs, errors.New("STORAGE_BUCKET: must not be empty"))
	}
	if cfg.StorageMaxRetries < 1 {
		errs = multierror.Append(errs, fmt.Errorf("STORAGE_MAX_RETRIES: must be at least 1, got %d", cfg.StorageMaxRetries))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// StorageProfile returns the connection profile for the object store.
func (c *Config) StorageProfile() storage.Profile {
	return storage.Profile{
		Driver:    c.StorageDriver,
		Endpoint:  c.StorageEndpoint,
		Port:      c.StoragePort,
		UseSSL:    c.StorageUseSSL,
		AccessKey: c.StorageAccessKey,
		SecretKey: c.StorageSecretKey,
		Region:    c.StorageRegion,
		PathStyle: c.StoragePathStyle,
		PartSize:  c.StorageChunkSize,
	}
}

// Telemetry returns the meter provider options.
func (c *Config) Telemetry() telemetry.Options {
	return telemetry.Options{
		Endpoint: c.MetricsEndpoint,
		Insecure: c.MetricsInsecure,
		Interval: c.MetricsInterval,
	}
}

// RetryPolicy returns the upload retry policy with the configured chunk size first.
func (c *Config) RetryPolicy() storage.RetryPolicy {
	return storage.NewRetryPolicy(c.StorageChunkSize, c.StorageMaxRetries)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type parser struct {
	errs **multierror.Error
}

func (p parser) fail(key string, err error) {
	*p.errs = multierror.Append(*p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

// bytes accepts plain byte counts and humanized sizes such as "10MiB" or "5 MB".
func (p parser) bytes(key, fallback string) uint64 {
	n, err := humanize.ParseBytes(getEnv(key, fallback))
	if err != nil {
		p.fail(key, err)
		return 0
	}
	return n
}

func (p parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}
