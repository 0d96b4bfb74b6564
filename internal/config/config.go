// Package config loads the dashboard configuration from an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Env       string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	DataDir   string `mapstructure:"DATA_DIR"`
	StaticDir string `mapstructure:"STATIC_DIR"`
	Timezone  string `mapstructure:"TIMEZONE"`

	// Remote scheduling API.
	APIBaseURL string        `mapstructure:"API_BASE_URL"`
	APITimeout time.Duration `mapstructure:"API_TIMEOUT"`

	// Operator session. SESSION_REMOTE asks the API for the session and CSRF
	// cookie instead of trusting the static values.
	SessionID      string        `mapstructure:"SESSION_ID"`
	CSRFToken      string        `mapstructure:"CSRF_TOKEN"`
	SessionRemote  bool          `mapstructure:"SESSION_REMOTE"`
	SessionRefresh time.Duration `mapstructure:"SESSION_REFRESH"`

	// Push stream.
	StreamURL            string        `mapstructure:"STREAM_URL"`
	StreamTransport      string        `mapstructure:"STREAM_TRANSPORT"`
	StreamMaxReconnects  int           `mapstructure:"STREAM_MAX_RECONNECTS"`
	StreamBackoffInitial time.Duration `mapstructure:"STREAM_BACKOFF_INITIAL"`
	StreamBackoffMax     time.Duration `mapstructure:"STREAM_BACKOFF_MAX"`

	// Notification persistence.
	NotificationStore     string        `mapstructure:"NOTIFICATION_STORE"`
	NotificationRetention time.Duration `mapstructure:"NOTIFICATION_RETENTION"`
	RedisAddr             string        `mapstructure:"REDIS_ADDR"`
	RedisPassword         string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int           `mapstructure:"REDIS_DB"`

	// Local API.
	RateLimitPerMin int `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst  int `mapstructure:"RATE_LIMIT_BURST"`

	// Tracing.
	OTelEnabled     bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSampleRatio float64 `mapstructure:"OTEL_SAMPLING_RATIO"`
}

// Transport names accepted by STREAM_TRANSPORT.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Store names accepted by NOTIFICATION_STORE.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

var defaults = map[string]any{
	"APP_ENV":                     "development",
	"LOG_LEVEL":                   "info",
	"HTTP_ADDR":                   ":8099",
	"DATA_DIR":                    "/data",
	"STATIC_DIR":                  "./static",
	"TIMEZONE":                    "Local",
	"API_BASE_URL":                "http://localhost:8001/v1/api",
	"API_TIMEOUT":                 "15s",
	"SESSION_ID":                  "",
	"CSRF_TOKEN":                  "",
	"SESSION_REMOTE":              false,
	"SESSION_REFRESH":             "5m",
	"STREAM_URL":                  "",
	"STREAM_TRANSPORT":            TransportSSE,
	"STREAM_MAX_RECONNECTS":       0,
	"STREAM_BACKOFF_INITIAL":      "1s",
	"STREAM_BACKOFF_MAX":          "30s",
	"NOTIFICATION_STORE":          StoreSQLite,
	"NOTIFICATION_RETENTION":      "168h",
	"REDIS_ADDR":                  "localhost:6379",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"RATE_LIMIT_PER_MIN":          600,
	"RATE_LIMIT_BURST":            60,
	"OTEL_ENABLED":                false,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317",
	"OTEL_SAMPLING_RATIO":         1.0,
}

// Load reads configuration. When path is empty, a file named config.yaml is
// looked up in the working directory and ./config; a missing file is not an
// error. Environment variables always win over file values.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.StreamURL == "" {
		cfg.StreamURL = cfg.APIBaseURL + "/stream/"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have a closed set of options.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	switch c.StreamTransport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("STREAM_TRANSPORT must be %q or %q (got %q)", TransportSSE, TransportWebSocket, c.StreamTransport)
	}
	switch c.NotificationStore {
	case StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("NOTIFICATION_STORE must be %q or %q (got %q)", StoreSQLite, StoreRedis, c.NotificationStore)
	}
	if c.StreamMaxReconnects < 0 {
		return fmt.Errorf("STREAM_MAX_RECONNECTS must not be negative (got %d)", c.StreamMaxReconnects)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1] (got %v)", c.OTelSampleRatio)
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves the configured timezone used to interpret wall-clock
// dates and times returned by the API.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
