// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/airdash/airdash/internal/database"
)

// Catalog sources.
const (
	CatalogAPI      = "api"
	CatalogPostgres = "postgres"
	CatalogMemory   = "memory"
)

// Audit stores used by the worker.
const (
	AuditLog      = "log"
	AuditPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Env       string
	Server    ServerConfig
	Log       LogConfig
	Analytics AnalyticsConfig
	Catalog   CatalogConfig
	Database  database.Config
	Export    ExportConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
	PubSub    PubSubConfig
	Session   SessionConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequireTLS      bool
}

type LogConfig struct {
	Level  string
	Format string
}

type AnalyticsConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type CatalogConfig struct {
	Source  string
	BaseURL string
	Token   string
	Timeout time.Duration
}

type ExportConfig struct {
	DownloadTimeout time.Duration
	PreviewTimeout  time.Duration
	OutputDir       string
}

type AuthConfig struct {
	Enabled    bool
	SigningKey string
	Issuer     string
	Audience   string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

type PubSubConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// Enabled reports whether events go to Pub/Sub rather than the in-process bus.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

type SessionConfig struct {
	TTL        time.Duration
	MaxPerUser int
}

type WorkerConfig struct {
	AuditStore    string
	HandleTimeout time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	analyticsURL := getEnv("AIRQO_API_URL", "https://api.airqo.net/api/v2")
	token := getEnv("AIRQO_API_TOKEN", "")

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:            getEnv("APP_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequireTLS:      getBoolEnv("REQUIRE_TLS", false),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Analytics: AnalyticsConfig{
			BaseURL: analyticsURL,
			Token:   token,
			Timeout: getDurationEnv("ANALYTICS_TIMEOUT", 0),
		},
		Catalog: CatalogConfig{
			Source:  strings.ToLower(getEnv("CATALOG_SOURCE", CatalogAPI)),
			BaseURL: getEnv("CATALOG_API_URL", analyticsURL),
			Token:   getEnv("CATALOG_API_TOKEN", token),
			Timeout: getDurationEnv("CATALOG_TIMEOUT", 10*time.Second),
		},
		Database: database.ConfigFromEnv(),
		Export: ExportConfig{
			DownloadTimeout: getDurationEnv("EXPORT_DOWNLOAD_TIMEOUT", 60*time.Second),
			PreviewTimeout:  getDurationEnv("EXPORT_PREVIEW_TIMEOUT", 0),
			OutputDir:       getEnv("EXPORT_OUTPUT_DIR", "."),
		},
		Auth: AuthConfig{
			Enabled:    getBoolEnv("AUTH_ENABLED", true),
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", ""),
			Audience:   getEnv("JWT_AUDIENCE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		PubSub: PubSubConfig{
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", ""),
			Topic:        getEnv("PUBSUB_TOPIC", ""),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", ""),
		},
		Session: SessionConfig{
			TTL:        getDurationEnv("SESSION_TTL", 30*time.Minute),
			MaxPerUser: getIntEnv("SESSION_MAX_PER_USER", 5),
		},
		Worker: WorkerConfig{
			AuditStore:    strings.ToLower(getEnv("AUDIT_STORE", AuditLog)),
			HandleTimeout: getDurationEnv("WORKER_HANDLE_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.Log.Format))
	}

	switch c.Catalog.Source {
	case CatalogAPI, CatalogPostgres, CatalogMemory:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_SOURCE: unknown source %q", c.Catalog.Source))
	}

	if c.Export.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("EXPORT_DOWNLOAD_TIMEOUT: must be positive"))
	}
	if c.Export.PreviewTimeout < 0 {
		errs = append(errs, errors.New("EXPORT_PREVIEW_TIMEOUT: must not be negative"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL: must be positive"))
	}

	if c.Auth.Enabled && c.Auth.SigningKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SIGNING_KEY: required in production"))
	}
	if !c.Auth.Enabled && c.IsProduction() {
		errs = append(errs, errors.New("AUTH_ENABLED: cannot be disabled in production"))
	}

	switch c.Worker.AuditStore {
	case AuditLog, AuditPostgres:
	default:
		errs = append(errs, fmt.Errorf("AUDIT_STORE: unknown store %q", c.Worker.AuditStore))
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		errs = append(errs, errors.New("PUBSUB_PROJECT_ID and PUBSUB_TOPIC must be set together"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
