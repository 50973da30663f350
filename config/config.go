// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the plant feed client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/util"
)

// History sources.
const (
	HistorySourceAPI      = "api"
	HistorySourceInfluxDB = "influxdb"
)

// Config represents the application configuration
type Config struct {
	API           APIConfig          `yaml:"api"`
	Feed          FeedConfig         `yaml:"feed"`
	Sensors       []SensorConfig     `yaml:"sensors" validate:"dive"`
	History       HistoryConfig      `yaml:"history"`
	InfluxDB      InfluxDBConfig     `yaml:"influxdb"`
	Server        ServerConfig       `yaml:"server"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// APIConfig locates and authenticates against the plant dashboard API
type APIConfig struct {
	BaseURL        string               `yaml:"base_url" validate:"omitempty,http_url"`
	LiveBaseURL    string               `yaml:"live_base_url" validate:"omitempty,http_url"`
	Token          string               `yaml:"token"`
	Email          string               `yaml:"email" validate:"omitempty,email"`
	Password       string               `yaml:"password" validate:"required_with=Email"`
	Timeout        time.Duration        `yaml:"timeout" validate:"min=0"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// DiscoveryConfig holds mDNS settings used when no base URL is configured
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceType string        `yaml:"service_type"`
	Domain      string        `yaml:"domain"`
	Timeout     time.Duration `yaml:"timeout" validate:"min=0"`
}

// CircuitBreakerConfig holds REST circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"min=0"`
}

// FeedConfig holds sensor feed settings
type FeedConfig struct {
	BufferSize     int             `yaml:"buffer_size" validate:"min=0,max=100000"`
	HistoryTimeout time.Duration   `yaml:"history_timeout" validate:"min=0"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" validate:"min=0"`
	AlertAfter     int             `yaml:"alert_after" validate:"min=0"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the live reconnect policy
type ReconnectConfig struct {
	Policy       string        `yaml:"policy" validate:"omitempty,oneof=fixed exponential"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"min=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"min=0"`
	Multiplier   float64       `yaml:"multiplier" validate:"min=0"`
}

// SensorConfig is one feed opened at startup
type SensorConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Mode string `yaml:"mode"`
}

// HistoryConfig selects where historical queries are answered
type HistoryConfig struct {
	Source      string `yaml:"source" validate:"omitempty,oneof=api influxdb"`
	Measurement string `yaml:"measurement"`
}

// InfluxDBConfig holds InfluxDB connection settings
type InfluxDBConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// ServerConfig holds the local HTTP server settings
type ServerConfig struct {
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	RateBurst int     `yaml:"rate_burst" validate:"min=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// NotificationConfig holds alerting settings
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no sensors.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()
	return cfg
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"PLANT_API_URL", &c.API.BaseURL},
		{"PLANT_LIVE_URL", &c.API.LiveBaseURL},
		{"PLANT_API_TOKEN", &c.API.Token},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
		{"SLACK_WEBHOOK_URL", &c.Notifications.SlackWebhookURL},
		{"INFLUXDB_URL", &c.InfluxDB.URL},
		{"INFLUXDB_TOKEN", &c.InfluxDB.Token},
		{"INFLUXDB_ORG", &c.InfluxDB.Organization},
		{"INFLUXDB_BUCKET", &c.InfluxDB.Bucket},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	if idle := os.Getenv("FEED_IDLE_TIMEOUT"); idle != "" {
		duration, parseErr := time.ParseDuration(idle)
		if parseErr == nil {
			c.Feed.IdleTimeout = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse FEED_IDLE_TIMEOUT '%s': %v\n", idle, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.API.BaseURL == "" && !c.API.Discovery.Enabled {
		c.API.BaseURL = "http://localhost:5000"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.Discovery.ServiceType == "" {
		c.API.Discovery.ServiceType = "_plantapi._tcp"
	}
	if c.API.Discovery.Domain == "" {
		c.API.Discovery.Domain = "local."
	}
	if c.API.Discovery.Timeout == 0 {
		c.API.Discovery.Timeout = 5 * time.Second
	}
	if c.API.CircuitBreaker.FailureThreshold == 0 {
		c.API.CircuitBreaker.FailureThreshold = 5
	}
	if c.API.CircuitBreaker.OpenTimeout == 0 {
		c.API.CircuitBreaker.OpenTimeout = 30 * time.Second
	}

	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = feed.DefaultBufferSize
	}
	if c.Feed.HistoryTimeout == 0 {
		c.Feed.HistoryTimeout = 10 * time.Second
	}
	def := feed.DefaultReconnectPolicy()
	if c.Feed.Reconnect.Policy == "" {
		c.Feed.Reconnect.Policy = def.Policy
	}
	if c.Feed.Reconnect.InitialDelay == 0 {
		c.Feed.Reconnect.InitialDelay = def.InitialDelay
	}
	if c.Feed.Reconnect.MaxDelay == 0 {
		c.Feed.Reconnect.MaxDelay = def.MaxDelay
	}
	if c.Feed.Reconnect.Multiplier == 0 {
		c.Feed.Reconnect.Multiplier = def.Multiplier
	}

	for i := range c.Sensors {
		if c.Sensors[i].Mode == "" {
			c.Sensors[i].Mode = "live"
		}
	}

	if c.History.Source == "" {
		c.History.Source = HistorySourceAPI
	}
	if c.History.Measurement == "" {
		c.History.Measurement = "sensor_data"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":9090"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}

	if validateErr := c.validateAPI(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateSensors(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateHistory(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateLogging(); validateErr != nil {
		return validateErr
	}

	return nil
}

// structError reports the first tag failure as a ConfigError on its yaml path.
func structError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return apperrors.NewConfigError(yamlPath(fe.Namespace()), fmt.Sprint(fe.Value()),
		fmt.Errorf("failed %q validation", fe.Tag()))
}

// yamlPath turns "Config.Feed.Reconnect.Policy" into "feed.reconnect.policy".
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// validateAPI validates the plant API configuration
func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" && !c.API.Discovery.Enabled {
		return apperrors.NewConfigError("api.base_url", "", errors.New("required unless api.discovery.enabled is set"))
	}
	for field, raw := range map[string]string{
		"api.base_url":      c.API.BaseURL,
		"api.live_base_url": c.API.LiveBaseURL,
	} {
		if raw == "" {
			continue
		}
		parsedURL, parseErr := url.Parse(raw)
		if parseErr != nil {
			return apperrors.NewConfigError(field, raw, parseErr)
		}
		if securityErr := validateURLSecurity(field, parsedURL); securityErr != nil {
			return securityErr
		}
	}
	if c.API.Discovery.Enabled && c.API.Discovery.Timeout < 100*time.Millisecond {
		return apperrors.NewConfigError("api.discovery.timeout", c.API.Discovery.Timeout.String(),
			errors.New("must be at least 100ms"))
	}
	if c.Feed.Reconnect.Policy == feed.ReconnectExponential && c.Feed.Reconnect.MaxDelay < c.Feed.Reconnect.InitialDelay {
		return apperrors.NewConfigError("feed.reconnect.max_delay", c.Feed.Reconnect.MaxDelay.String(),
			errors.New("must not be less than feed.reconnect.initial_delay"))
	}
	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(field string, parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".local") ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return apperrors.NewConfigError(field, parsedURL.String(),
			errors.New("must use HTTPS for non-local connections; HTTP transmits credentials in plaintext"))
	}

	return nil
}

// validateSensors checks that every configured sensor is unique and has a parseable mode
func (c *Config) validateSensors() error {
	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		field := fmt.Sprintf("sensors[%d]", i)
		if seen[s.ID] {
			return apperrors.NewConfigError(field+".id", s.ID, errors.New("duplicate sensor id"))
		}
		seen[s.ID] = true

		if _, err := s.ParsedMode(); err != nil {
			return apperrors.NewConfigError(field+".mode", s.Mode, err)
		}
	}
	return nil
}

// validateHistory validates the InfluxDB settings when InfluxDB answers history queries
func (c *Config) validateHistory() error {
	if c.History.Source != HistorySourceInfluxDB {
		return nil
	}

	if c.InfluxDB.URL == "" {
		return apperrors.NewConfigError("influxdb.url", "", errors.New("required when history.source is influxdb"))
	}
	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return apperrors.NewConfigError("influxdb.url", c.InfluxDB.URL, parseErr)
	}
	if securityErr := validateURLSecurity("influxdb.url", parsedURL); securityErr != nil {
		return securityErr
	}
	if len(c.InfluxDB.Token) < 8 {
		return apperrors.NewConfigError("influxdb.token", "", errors.New("must be at least 8 characters long"))
	}
	if c.InfluxDB.Organization == "" {
		return apperrors.NewConfigError("influxdb.organization", "", errors.New("required when history.source is influxdb"))
	}
	if c.InfluxDB.Bucket == "" {
		return apperrors.NewConfigError("influxdb.bucket", "", errors.New("required when history.source is influxdb"))
	}
	return nil
}

// validateLogging validates the logging configuration
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return apperrors.NewConfigError("logging.level", c.Logging.Level,
			errors.New("must be one of: debug, info, warn, error, fatal, panic"))
	}

	return nil
}

// ParsedMode returns the sensor's feed mode.
func (s SensorConfig) ParsedMode() (feed.Mode, error) {
	return feed.ParseMode(s.Mode)
}

// FeedOptions converts the feed section into client options. The notifier
// is wired separately.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{
		BufferSize:     c.Feed.BufferSize,
		HistoryTimeout: c.Feed.HistoryTimeout,
		IdleTimeout:    c.Feed.IdleTimeout,
		AlertAfter:     c.Feed.AlertAfter,
		Reconnect: feed.ReconnectPolicy{
			Policy:       c.Feed.Reconnect.Policy,
			InitialDelay: c.Feed.Reconnect.InitialDelay,
			MaxDelay:     c.Feed.Reconnect.MaxDelay,
			Multiplier:   c.Feed.Reconnect.Multiplier,
		},
	}
}
