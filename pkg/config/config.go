package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Breaker       BreakerConfig       `json:"breaker"`
	Alerting      AlertingConfig      `json:"alerting"`
	Notifications NotificationsConfig `json:"notifications"`
	Probes        ProbesConfig        `json:"probes"`
	Tracing       TracingConfig       `json:"tracing"`
	Metrics       MetricsConfig       `json:"metrics"`

	// Populated from FLEET_FILE when set
	Services []ServiceEntry `json:"services"`
	Rules    []RuleEntry    `json:"rules"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AdminJWTSecret string        `json:"-"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MonitoringConfig controls the health-check poller
type MonitoringConfig struct {
	ServiceName        string        `json:"service_name"`
	CheckInterval      time.Duration `json:"check_interval"`
	HealthCheckTimeout time.Duration `json:"health_check_timeout"`
	HistorySize        int           `json:"history_size"`
	FleetFile          string        `json:"fleet_file"`
}

// BreakerConfig holds the defaults every circuit breaker is created with
type BreakerConfig struct {
	FailureThreshold    int           `json:"failure_threshold"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
	HalfOpenMaxAttempts int           `json:"half_open_max_attempts"`
}

// AlertingConfig configures the rule engine
type AlertingConfig struct {
	DefaultCooldown time.Duration `json:"default_cooldown"`
	MaxHistorySize  int           `json:"max_history_size"`
	Window          time.Duration `json:"window"`
	DispatchTimeout time.Duration `json:"dispatch_timeout"`
}

// NotificationsConfig holds the endpoints of every alert channel. Channels
// with no endpoint are not registered.
type NotificationsConfig struct {
	SlackWebhookURL        string            `json:"-"`
	WebhookURL             string            `json:"-"`
	WebhookHeaders         map[string]string `json:"-"`
	NotificationServiceURL string            `json:"notification_service_url"`
	ServiceToken           string            `json:"-"`
	AlertEmail             string            `json:"alert_email"`
	KafkaBrokers           []string          `json:"kafka_brokers"`
	KafkaTopic             string            `json:"kafka_topic"`
	RequestTimeout         time.Duration     `json:"request_timeout"`
	RetryAttempts          int               `json:"retry_attempts"`
}

// ProbesConfig enables the optional infrastructure probes
type ProbesConfig struct {
	DatabaseDriver string `json:"database_driver"`
	DatabaseDSN    string `json:"-"`
	RedisURL       string `json:"-"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Environment    string  `json:"environment"`
}

// MetricsConfig configures Prometheus instrumentation
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// ServiceEntry is a monitored service declared in the fleet file
type ServiceEntry struct {
	Name       string        `yaml:"name" json:"name"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	HealthPath string        `yaml:"health_path" json:"health_path"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RuleEntry is a custom threshold rule declared in the fleet file
type RuleEntry struct {
	ID       string        `yaml:"id" json:"id"`
	Severity string        `yaml:"severity" json:"severity"`
	Field    string        `yaml:"field" json:"field"`
	Op       string        `yaml:"op" json:"op"`
	Value    float64       `yaml:"value" json:"value"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	Channels []string      `yaml:"channels" json:"channels"`
}

type fleetFile struct {
	Services []ServiceEntry `yaml:"services"`
	Rules    []RuleEntry    `yaml:"rules"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AdminJWTSecret: getEnvString("ADMIN_JWT_SECRET", ""),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			Output:     getEnvString("LOG_OUTPUT", "stdout"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
		Monitoring: MonitoringConfig{
			ServiceName:        getEnvString("SERVICE_NAME", "fleetwatch"),
			CheckInterval:      getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			HistorySize:        getEnvInt("HEALTH_HISTORY_SIZE", 100),
			FleetFile:          getEnvString("FLEET_FILE", ""),
		},
		Breaker: BreakerConfig{
			FailureThreshold:    getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:        getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			HalfOpenMaxAttempts: getEnvInt("BREAKER_HALF_OPEN_MAX_ATTEMPTS", 3),
		},
		Alerting: AlertingConfig{
			DefaultCooldown: getEnvDuration("ALERT_DEFAULT_COOLDOWN", 5*time.Minute),
			MaxHistorySize:  getEnvInt("ALERT_MAX_HISTORY", 1000),
			Window:          getEnvDuration("ALERT_WINDOW", 5*time.Minute),
			DispatchTimeout: getEnvDuration("ALERT_DISPATCH_TIMEOUT", 15*time.Second),
		},
		Notifications: NotificationsConfig{
			SlackWebhookURL:        getEnvString("SLACK_WEBHOOK_URL", ""),
			WebhookURL:             getEnvString("ALERT_WEBHOOK_URL", ""),
			WebhookHeaders:         getEnvMap("ALERT_WEBHOOK_HEADERS"),
			NotificationServiceURL: getEnvString("NOTIFICATION_SERVICE_URL", ""),
			ServiceToken:           getEnvString("SERVICE_TOKEN", ""),
			AlertEmail:             getEnvString("ALERT_EMAIL", ""),
			KafkaBrokers:           getEnvList("KAFKA_BROKERS", nil),
			KafkaTopic:             getEnvString("KAFKA_ALERT_TOPIC", "fleetwatch.alerts"),
			RequestTimeout:         getEnvDuration("NOTIFICATION_TIMEOUT", 10*time.Second),
			RetryAttempts:          getEnvInt("NOTIFICATION_RETRY_ATTEMPTS", 3),
		},
		Probes: ProbesConfig{
			DatabaseDriver: getEnvString("PROBE_DB_DRIVER", "postgres"),
			DatabaseDSN:    getEnvString("PROBE_DB_DSN", ""),
			RedisURL:       getEnvString("PROBE_REDIS_URL", ""),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "fleetwatch"),
		},
	}

	if config.Monitoring.FleetFile != "" {
		if err := config.LoadFleetFile(config.Monitoring.FleetFile); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadFleetFile reads monitored services and custom rules from a YAML file
func (c *Config) LoadFleetFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fleet file: %w", err)
	}

	var f fleetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse fleet file: %w", err)
	}

	for i := range f.Services {
		if f.Services[i].Timeout <= 0 {
			f.Services[i].Timeout = c.Monitoring.HealthCheckTimeout
		}
	}

	c.Services = append(c.Services, f.Services...)
	c.Rules = append(c.Rules, f.Rules...)
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Monitoring.CheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}
	if c.Monitoring.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health check timeout must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxAttempts <= 0 {
		return fmt.Errorf("breaker half-open attempts must be positive")
	}
	if c.Alerting.DefaultCooldown <= 0 {
		return fmt.Errorf("alert cooldown must be positive")
	}
	if c.Notifications.ServiceToken != "" && c.Notifications.NotificationServiceURL == "" {
		return fmt.Errorf("notification service URL is required when a service token is set")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" || svc.BaseURL == "" {
			return fmt.Errorf("fleet service entries need a name and base_url")
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate fleet service %q", svc.Name)
		}
		seen[svc.Name] = true
	}

	for _, rule := range c.Rules {
		if rule.ID == "" || rule.Field == "" {
			return fmt.Errorf("fleet rule entries need an id and a field")
		}
		if rule.Cooldown < 0 {
			return fmt.Errorf("rule %s has a negative cooldown", rule.ID)
		}
	}

	return nil
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvMap parses "Key=Value,Other=Value"
func getEnvMap(key string) map[string]string {
	result := make(map[string]string)
	for _, pair := range getEnvList(key, nil) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return result
}
