package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway       GatewayConfig       `yaml:"gateway"`
	Snapshots     SnapshotsConfig     `yaml:"snapshots"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Push          PushConfig          `yaml:"push"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// GatewayConfig selects and configures the data gateway.
type GatewayConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "supabase"
	Path     string         `yaml:"path"`
	Supabase SupabaseConfig `yaml:"supabase"`
}

// SupabaseConfig for the hosted REST and object storage backend.
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Bucket  string `yaml:"bucket"`
	Timeout string `yaml:"timeout"`
}

// ParseTimeout returns the request timeout as time.Duration.
func (s SupabaseConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// SnapshotsConfig configures the local snapshot bucket used with sqlite.
type SnapshotsConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
	Prefix  string `yaml:"prefix"`
}

// DashboardConfig configures the dashboard refresh loop.
type DashboardConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
	AlertBatch      int    `yaml:"alert_batch"`
	HourStart       int    `yaml:"hour_start"`
	HourEnd         int    `yaml:"hour_end"`
	Timezone        string `yaml:"timezone"`
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (d DashboardConfig) ParseRefreshInterval() time.Duration {
	v, err := time.ParseDuration(d.RefreshInterval)
	if err != nil || v <= 0 {
		return 5 * time.Second
	}
	return v
}

// Location returns the configured timezone, falling back to time.Local.
func (d DashboardConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NotificationsConfig configures the notification panel.
type NotificationsConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
	Limit           int    `yaml:"limit"`
	ReadStateDir    string `yaml:"read_state_dir"` // empty keeps read state in memory
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (n NotificationsConfig) ParseRefreshInterval() time.Duration {
	v, err := time.ParseDuration(n.RefreshInterval)
	if err != nil || v <= 0 {
		return 10 * time.Second
	}
	return v
}

// PushConfig configures push delivery destinations.
type PushConfig struct {
	VAPID         VAPIDConfig   `yaml:"vapid"`
	WatchInterval string        `yaml:"watch_interval"`
	SendRate      int           `yaml:"send_rate"` // browser pushes per second, 0 is unlimited
	Slack         SlackConfig   `yaml:"slack"`
	Discord       DiscordConfig `yaml:"discord"`
	Webhook       WebhookConfig `yaml:"webhook"`
}

// ParseWatchInterval returns the new-alert watch interval as time.Duration.
func (p PushConfig) ParseWatchInterval() time.Duration {
	v, err := time.ParseDuration(p.WatchInterval)
	if err != nil || v <= 0 {
		return 10 * time.Second
	}
	return v
}

// VAPIDConfig holds the web push application server keys.
type VAPIDConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (v VAPIDConfig) Enabled() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   int      `yaml:"rate_limit"` // requests per minute per IP, 0 disables
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Driver:   "sqlite",
			Path:     "./shopguard.db",
			Supabase: SupabaseConfig{Bucket: "theftsnapshots", Timeout: "10s"},
		},
		Snapshots: SnapshotsConfig{
			Dir:     "./snapshots",
			BaseURL: "http://localhost:8080",
			Prefix:  "theft_snapshots",
		},
		Dashboard: DashboardConfig{
			RefreshInterval: "5s",
			AlertBatch:      50,
			HourStart:       9,
			HourEnd:         21,
		},
		Notifications: NotificationsConfig{
			RefreshInterval: "10s",
			Limit:           10,
			ReadStateDir:    "./readstate",
		},
		Push: PushConfig{
			WatchInterval: "10s",
			SendRate:      20,
			VAPID:         VAPIDConfig{Subject: "mailto:admin@example.com", TTL: 60},
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   300,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Gateway.Driver {
	case "sqlite":
	case "supabase":
		if c.Gateway.Supabase.URL == "" || c.Gateway.Supabase.Key == "" {
			return fmt.Errorf("gateway: supabase driver needs url and key")
		}
	default:
		return fmt.Errorf("gateway: unknown driver %q", c.Gateway.Driver)
	}
	if c.Dashboard.HourStart < 0 || c.Dashboard.HourEnd > 23 || c.Dashboard.HourStart > c.Dashboard.HourEnd {
		return fmt.Errorf("dashboard: invalid hour range %d..%d", c.Dashboard.HourStart, c.Dashboard.HourEnd)
	}
	if c.Dashboard.AlertBatch <= 0 {
		return fmt.Errorf("dashboard: alert_batch must be positive")
	}
	if c.Notifications.Limit <= 0 {
		return fmt.Errorf("notifications: limit must be positive")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOPGUARD_DB_PATH"); v != "" {
		cfg.Gateway.Path = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Gateway.Supabase.URL = strings.TrimRight(v, "/")
		cfg.Gateway.Driver = "supabase"
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		cfg.Gateway.Supabase.Key = v
	}
	if v := os.Getenv("SUPABASE_BUCKET"); v != "" {
		cfg.Gateway.Supabase.Bucket = v
	}
	if v := os.Getenv("SHOPGUARD_TIMEZONE"); v != "" {
		cfg.Dashboard.Timezone = v
	}
	if v := os.Getenv("SHOPGUARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.VAPID.PublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.VAPID.PrivateKey = v
	}
	if v := os.Getenv("VAPID_SUBJECT"); v != "" {
		cfg.Push.VAPID.Subject = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Push.Slack.WebhookURL = v
		cfg.Push.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Push.Discord.WebhookURL = v
		cfg.Push.Discord.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
