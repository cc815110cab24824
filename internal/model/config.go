package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the task store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (embedded) or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// EscalationConfig tunes the escalation sweep.
type EscalationConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	Workers   int `mapstructure:"workers" yaml:"workers"`

	// RulesFile is an optional YAML file imported by "opsctl rules import".
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`

	// DefaultMaxEscalations applies to imported rules that omit the cap.
	DefaultMaxEscalations int `mapstructure:"default_max_escalations" yaml:"default_max_escalations"`
}

// EmailConfig holds SMTP submission settings. The password is read from
// the system keyring, never from the config file.
type EmailConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Username    string `mapstructure:"username" yaml:"username"`
	From        string `mapstructure:"from" yaml:"from"`
	ImplicitTLS bool   `mapstructure:"implicit_tls" yaml:"implicit_tls"`
}

// WebhookConfig points a channel at an HTTP delivery provider.
type WebhookConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NotificationConfig tunes the dispatcher and its channels.
type NotificationConfig struct {
	Workers    int           `mapstructure:"workers" yaml:"workers"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Email      EmailConfig   `mapstructure:"email" yaml:"email"`
	SMS        WebhookConfig `mapstructure:"sms" yaml:"sms"`
	Push       WebhookConfig `mapstructure:"push" yaml:"push"`
}

// AuthConfig holds the secret used to verify actor tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// SweepConfig drives "opsctl run".
type SweepConfig struct {
	Restaurants           []string `mapstructure:"restaurants" yaml:"restaurants"`
	EscalationIntervalSec int      `mapstructure:"escalation_interval_sec" yaml:"escalation_interval_sec"`
	OverdueIntervalSec    int      `mapstructure:"overdue_interval_sec" yaml:"overdue_interval_sec"`
	RetryIntervalSec      int      `mapstructure:"retry_interval_sec" yaml:"retry_interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database      DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Escalation    EscalationConfig   `mapstructure:"escalation" yaml:"escalation"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Auth          AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Sweep         SweepConfig        `mapstructure:"sweep" yaml:"sweep"`
}

// MaxDeliveryAttempts is the hard bound on notification delivery attempts.
const MaxDeliveryAttempts = 3

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/restaurant-ops/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "restaurant-ops", "config.yaml")
}

// defaultDatabasePath returns the embedded database location next to the
// default config file.
func defaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "ops.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    defaultDatabasePath(),
		},
		Escalation: EscalationConfig{
			BatchSize:             100,
			Workers:               4,
			DefaultMaxEscalations: 3,
		},
		Notifications: NotificationConfig{
			Workers:    4,
			MaxRetries: MaxDeliveryAttempts,
			Email: EmailConfig{
				Port: 587,
			},
		},
		Sweep: SweepConfig{
			Restaurants:           []string{},
			EscalationIntervalSec: 300,
			OverdueIntervalSec:    300,
			RetryIntervalSec:      120,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// Environment variables prefixed with OPS_ override file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", defaultDatabasePath())
	v.SetDefault("escalation.batch_size", 100)
	v.SetDefault("escalation.workers", 4)
	v.SetDefault("escalation.default_max_escalations", 3)
	v.SetDefault("notifications.workers", 4)
	v.SetDefault("notifications.max_retries", MaxDeliveryAttempts)
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("sweep.escalation_interval_sec", 300)
	v.SetDefault("sweep.overdue_interval_sec", 300)
	v.SetDefault("sweep.retry_interval_sec", 120)

	cfg := defaultAppConfig()

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps values that would break engine invariants.
func (c *AppConfig) normalize() {
	if c.Notifications.MaxRetries <= 0 || c.Notifications.MaxRetries > MaxDeliveryAttempts {
		c.Notifications.MaxRetries = MaxDeliveryAttempts
	}
	if c.Notifications.Workers <= 0 {
		c.Notifications.Workers = 1
	}
	if c.Escalation.Workers <= 0 {
		c.Escalation.Workers = 1
	}
	if c.Escalation.BatchSize <= 0 {
		c.Escalation.BatchSize = 100
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("escalation", cfg.Escalation)
	v.Set("notifications", cfg.Notifications)
	v.Set("auth", cfg.Auth)
	v.Set("sweep", cfg.Sweep)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
