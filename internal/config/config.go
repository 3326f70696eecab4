// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30m" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`

	Refresh RefreshConfig `yaml:"refresh"`
	Fanout  FanoutConfig  `yaml:"fanout"`
	OAuth   OAuthConfig   `yaml:"oauth"`
}

// RefreshConfig tunes the scheduled token refresh pass.
type RefreshConfig struct {
	Interval        Duration `yaml:"interval"`
	InitialDelay    Duration `yaml:"initial_delay"`
	BetweenAccounts Duration `yaml:"between_accounts"`
}

// FanoutConfig tunes cross-account aggregation.
type FanoutConfig struct {
	Width int `yaml:"width"`
}

// OAuthConfig carries the default marketplace app used by the link flow.
// Accounts authorized through their own app keep their own credentials on
// the account record; these are only the fallback for /auth/meli/login.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   "8086",
		DBPath: "sellerhub.db",
		Refresh: RefreshConfig{
			Interval:        Duration(time.Hour),
			InitialDelay:    Duration(30 * time.Second),
			BetweenAccounts: Duration(500 * time.Millisecond),
		},
		Fanout: FanoutConfig{Width: 4},
	}
}

// Load reads the YAML file at path (missing file is fine) and applies env
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults + env only.
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("SELLERHUB_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MELI_CLIENT_ID"); v != "" {
		c.OAuth.ClientID = v
	}
	if v := os.Getenv("MELI_CLIENT_SECRET"); v != "" {
		c.OAuth.ClientSecret = v
	}
	if v := os.Getenv("MELI_REDIRECT_URI"); v != "" {
		c.OAuth.RedirectURI = v
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
