package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the SPC engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Cache    CacheConfig    `yaml:"cache"`
	Probes   []ProbeConfig  `yaml:"probes"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	APIKey          string        `yaml:"apiKey"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig configures the measurement and violation store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AlertsConfig configures alert fan-out.
type AlertsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxConcurrent  int           `yaml:"maxConcurrent"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	WebhookURL     string        `yaml:"webhookURL"`
	SlackWebhook   string        `yaml:"slackWebhook"`
	Email          EmailConfig   `yaml:"email"`
}

// EmailConfig configures the SMTP channel. Leaving Addr empty disables it.
type EmailConfig struct {
	Addr string   `yaml:"addr"`
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// CacheConfig controls caching of windowed query results.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// ProbeConfig describes one actively probed endpoint.
type ProbeConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	URL      string        `yaml:"url"`
	Prompt   string        `yaml:"prompt"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PULSE_SPC_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:pulse-spc.db?_time_format=sqlite",
			MaxOpenConns: 8,
			MaxIdleConns: 4,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Alerts: AlertsConfig{
			Enabled:        true,
			MaxConcurrent:  4,
			AttemptTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     15 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	for i, p := range c.Probes {
		if p.Provider == "" || p.Model == "" || p.URL == "" {
			return fmt.Errorf("probe %d: provider, model, and url are required", i)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSE_SPC_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("PULSE_SPC_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PULSE_SPC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PULSE_SPC_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PULSE_SPC_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PULSE_SPC_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxOpenConns = n
		}
	}
	if v := os.Getenv("PULSE_SPC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PULSE_SPC_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("PULSE_SPC_ALERTS_ENABLED"); v != "" {
		cfg.Alerts.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PULSE_SPC_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("PULSE_SPC_ALERT_SLACK_WEBHOOK"); v != "" {
		cfg.Alerts.SlackWebhook = v
	}
	if v := os.Getenv("PULSE_SPC_ALERT_ATTEMPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.AttemptTimeout = d
		}
	}
	if v := os.Getenv("PULSE_SPC_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PULSE_SPC_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
}
