package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress   string    `json:"serverAddress"`
	DatabasePath    string    `json:"databasePath"`
	DatabaseURL     string    `json:"databaseUrl"`
	DatabaseBackend string    `json:"databaseBackend"`
	LogLevel        string    `json:"logLevel"`
	LogFormat       string    `json:"logFormat"`
	Ordering        Ordering  `json:"ordering"`
	Storage         Storage   `json:"storage"`
	Security        Security  `json:"security"`
	OAuth           OAuth     `json:"oauth"`
	Session         Session   `json:"session"`
	Telemetry       Telemetry `json:"telemetry"`
}

// Ordering tunes the membership ordering engine
type Ordering struct {
	MaxRetries          int `json:"maxRetries"`
	RetryBaseDelayMs    int `json:"retryBaseDelayMs"`
	OperationTimeoutSec int `json:"operationTimeoutSec"`
}

// RetryBaseDelay is the first backoff interval after a conflict
func (o Ordering) RetryBaseDelay() time.Duration {
	return time.Duration(o.RetryBaseDelayMs) * time.Millisecond
}

// OperationTimeout bounds a single engine call including retries
func (o Ordering) OperationTimeout() time.Duration {
	return time.Duration(o.OperationTimeoutSec) * time.Second
}

// Storage configuration for uploaded originals and thumbnails
type Storage struct {
	Backend           string   `json:"backend"`
	BasePath          string   `json:"basePath"`
	Bucket            string   `json:"bucket"`
	Region            string   `json:"region"`
	Endpoint          string   `json:"endpoint"`
	PublicBaseURL     string   `json:"publicBaseUrl"`
	MaxFileSizeMB     int64    `json:"maxFileSizeMB"`
	AllowedExtensions []string `json:"allowedExtensions"`
}

// MaxFileSize returns the upload limit in bytes
func (s Storage) MaxFileSize() int64 {
	return s.MaxFileSizeMB * 1024 * 1024
}

// Security configuration. APIKeyHash is a bcrypt hash of the admin API key.
type Security struct {
	APIKeyHash   string `json:"apiKeyHash"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// OAuth configuration for the authorization code login flow
type OAuth struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	AuthURL      string   `json:"authUrl"`
	TokenURL     string   `json:"tokenUrl"`
	RedirectURL  string   `json:"redirectUrl"`
	UserInfoURL  string   `json:"userInfoUrl"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether OAuth login is configured
func (o OAuth) Enabled() bool {
	return o.ClientID != ""
}

// Session configuration for browser sessions
type Session struct {
	CookieName   string `json:"cookieName"`
	TTLHours     int    `json:"ttlHours"`
	SecureCookie bool   `json:"secureCookie"`
}

// TTL returns the session lifetime
func (s Session) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// Telemetry configures OTLP export of traces and metrics
type Telemetry struct {
	Enabled           bool    `json:"enabled"`
	Endpoint          string  `json:"endpoint"`
	Environment       string  `json:"environment"`
	SampleRatio       float64 `json:"sampleRatio"`
	ExportIntervalSec int     `json:"exportIntervalSec"`
}

// ExportInterval is how often metrics are pushed to the collector
func (t Telemetry) ExportInterval() time.Duration {
	return time.Duration(t.ExportIntervalSec) * time.Second
}

// Backend returns the database backend: postgres, sqlite or memory
func (c *Config) Backend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case strings.EqualFold(c.DatabaseBackend, "memory"):
		return "memory"
	default:
		return "sqlite"
	}
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":8080",
		DatabasePath:  "gallery.db",
		LogLevel:      "info",
		LogFormat:     "text",
		Ordering: Ordering{
			MaxRetries:          5,
			RetryBaseDelayMs:    20,
			OperationTimeoutSec: 10,
		},
		Storage: Storage{
			Backend:       "local",
			BasePath:      "./photos",
			Region:        "us-east-1",
			MaxFileSizeMB: 50,
			AllowedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".heic", ".heif",
			},
		},
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
		OAuth: OAuth{
			Scopes: []string{"openid", "email", "profile"},
		},
		Session: Session{
			CookieName: "gallery_session",
			TTLHours:   24 * 7,
		},
		Telemetry: Telemetry{
			Endpoint:          "localhost:4317",
			Environment:       "development",
			SampleRatio:       1,
			ExportIntervalSec: 30,
		},
	}
}

// Load loads configuration from file or environment. A .env file in the
// working directory is read first; variables already set take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Backend == "local" {
		// Ensure photo storage directory exists
		if err := os.MkdirAll(cfg.Storage.BasePath, 0755); err != nil {
			return nil, err
		}

		// Make base path absolute
		absPath, err := filepath.Abs(cfg.Storage.BasePath)
		if err != nil {
			return nil, err
		}
		cfg.Storage.BasePath = absPath
	}

	return cfg, nil
}

// Override from environment variables
func applyEnv(cfg *Config) {
	setString(&cfg.ServerAddress, "SERVER_ADDRESS")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DatabaseBackend, "DATABASE_BACKEND")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	setInt(&cfg.Ordering.MaxRetries, "ORDERING_MAX_RETRIES")
	setInt(&cfg.Ordering.RetryBaseDelayMs, "ORDERING_RETRY_BASE_DELAY_MS")
	setInt(&cfg.Ordering.OperationTimeoutSec, "ORDERING_OPERATION_TIMEOUT_SEC")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.BasePath, "PHOTO_STORAGE_PATH")
	setString(&cfg.Storage.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.Region, "S3_REGION")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.PublicBaseURL, "S3_PUBLIC_BASE_URL")
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.MaxFileSizeMB = mb
		}
	}

	setString(&cfg.Security.APIKeyHash, "API_KEY_HASH")
	setString(&cfg.Security.APIKeyHeader, "API_KEY_HEADER")

	setString(&cfg.OAuth.ClientID, "OAUTH_CLIENT_ID")
	setString(&cfg.OAuth.ClientSecret, "OAUTH_CLIENT_SECRET")
	setString(&cfg.OAuth.AuthURL, "OAUTH_AUTH_URL")
	setString(&cfg.OAuth.TokenURL, "OAUTH_TOKEN_URL")
	setString(&cfg.OAuth.RedirectURL, "OAUTH_REDIRECT_URL")
	setString(&cfg.OAuth.UserInfoURL, "OAUTH_USERINFO_URL")
	if scopes := os.Getenv("OAUTH_SCOPES"); scopes != "" {
		cfg.OAuth.Scopes = strings.Fields(strings.ReplaceAll(scopes, ",", " "))
	}

	setString(&cfg.Session.CookieName, "SESSION_COOKIE_NAME")
	setInt(&cfg.Session.TTLHours, "SESSION_TTL_HOURS")
	if secure := os.Getenv("SESSION_SECURE_COOKIE"); secure != "" {
		cfg.Session.SecureCookie = secure == "true" || secure == "1"
	}

	if enabled := os.Getenv("OTEL_ENABLED"); enabled != "" {
		cfg.Telemetry.Enabled = enabled == "true" || enabled == "1"
	}
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Environment, "ENVIRONMENT")
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRatio = ratio
		}
	}
	setInt(&cfg.Telemetry.ExportIntervalSec, "OTEL_METRIC_EXPORT_INTERVAL_SEC")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.DatabaseBackend) {
	case "", "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("databaseBackend %q must be sqlite, postgres or memory", c.DatabaseBackend))
	}
	if strings.EqualFold(c.DatabaseBackend, "postgres") && c.DatabaseURL == "" {
		errs = append(errs, errors.New("databaseUrl is required for the postgres backend"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logFormat %q must be text or json", c.LogFormat))
	}

	if c.Ordering.MaxRetries < 1 {
		errs = append(errs, errors.New("ordering.maxRetries must be at least 1"))
	}
	if c.Ordering.RetryBaseDelayMs < 0 {
		errs = append(errs, errors.New("ordering.retryBaseDelayMs must not be negative"))
	}
	if c.Ordering.OperationTimeoutSec <= 0 {
		errs = append(errs, errors.New("ordering.operationTimeoutSec must be positive"))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.BasePath == "" {
			errs = append(errs, errors.New("storage.basePath is required for local storage"))
		}
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local or s3", c.Storage.Backend))
	}
	if c.Storage.MaxFileSizeMB <= 0 {
		errs = append(errs, errors.New("storage.maxFileSizeMB must be positive"))
	}

	if c.OAuth.Enabled() {
		if c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "" || c.OAuth.RedirectURL == "" {
			errs = append(errs, errors.New("oauth requires authUrl, tokenUrl and redirectUrl"))
		}
	}
	if c.Session.TTLHours <= 0 {
		errs = append(errs, errors.New("session.ttlHours must be positive"))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sampleRatio %v must be between 0 and 1", c.Telemetry.SampleRatio))
		}
		if c.Telemetry.ExportIntervalSec <= 0 {
			errs = append(errs, errors.New("telemetry.exportIntervalSec must be positive"))
		}
	}

	return errors.Join(errs...)
}
