// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SWITCHBOARD_DATABASE_DSN.
const EnvPrefix = "SWITCHBOARD"

// DefaultSweepSchedule runs the idle sweep once per minute.
const DefaultSweepSchedule = "@every 1m"

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Platform Platform       `yaml:"platform"`
	Redis    RedisConfig    `yaml:"redis"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the storage driver. DSN wins over the discrete
// host/port fields when set.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, postgres
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// SweepConfig controls the periodic idle-recovery trigger.
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
	// CountWindow bounds how far back idle releases are counted toward
	// escalation. Zero counts the chat's whole lifetime.
	CountWindow time.Duration `yaml:"count_window"`
}

// RedisConfig enables publishing events to a Redis channel when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// AlertsConfig holds credentials for escalation alerts. Each platform is
// enabled only when both token and channel are present.
type AlertsConfig struct {
	SlackToken       string `yaml:"slack_token"`
	SlackChannel     string `yaml:"slack_channel"`
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// envOverrides lists the settings that may come from the environment.
type envOverrides struct {
	DatabaseDSN  string `envconfig:"DATABASE_DSN"`
	RedisURL     string `envconfig:"REDIS_URL"`
	SlackToken   string `envconfig:"SLACK_TOKEN"`
	DiscordToken string `envconfig:"DISCORD_TOKEN"`
	Listen       string `envconfig:"LISTEN"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	// Absent platform keys keep their defaults; an explicit zero is honored.
	cfg := Config{Platform: DefaultPlatform()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays non-empty environment values onto the file config.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.SlackToken != "" {
		c.Alerts.SlackToken = env.SlackToken
	}
	if env.DiscordToken != "" {
		c.Alerts.DiscordToken = env.DiscordToken
	}
	if env.Listen != "" {
		c.Server.Listen = env.Listen
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Name == "" {
			c.Database.Name = "switchboard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = DefaultSweepSchedule
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "switchboard.events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" && c.Database.Name == "" {
		errs = append(errs, "database.name or database.dsn is required")
	}
	if c.Sweep.CountWindow < 0 {
		errs = append(errs, "sweep.count_window must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of json, console", c.Log.Format))
	}
	if err := c.Platform.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
