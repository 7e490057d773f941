// Package config handles application configuration from an optional TOML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Version is reported in the user agent and by the shell.
const Version = "0.8.0"

// Supported site authentication modes.
const (
	AuthNone     = "no-auth"
	AuthHTTP     = "http"
	AuthOldLogin = "old-login"
	AuthSSL      = "ssl"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Site describes how to reach a MediaWiki site.
type Site struct {
	Host      string `toml:"host"`
	Path      string `toml:"path"`
	Scheme    string `toml:"scheme"`
	Auth      string `toml:"auth"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	ClientPEM string `toml:"client_pem"`
	KeyPEM    string `toml:"key_pem"`
}

// Telegram holds the optional run notification target.
type Telegram struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
}

// Config holds the application configuration.
type Config struct {
	Site              Site     `toml:"site"`
	Telegram          Telegram `toml:"telegram"`
	DatabasePath      string   `toml:"database_path"`
	LogLevel          string   `toml:"log_level"`
	WorkPath          string   `toml:"work_path"`
	MetricsFile       string   `toml:"metrics_file"`
	UserAgent         string   `toml:"user_agent"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// Load reads the TOML file named by WIKITOOL_CONFIG (if any), applies
// environment overrides and defaults, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if path := os.Getenv("WIKITOOL_CONFIG"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.Site.Host, "WIKI_HOST")
	overrideString(&cfg.Site.Path, "WIKI_PATH")
	overrideString(&cfg.Site.Scheme, "WIKI_SCHEME")
	overrideString(&cfg.Site.Auth, "WIKI_AUTH")
	overrideString(&cfg.Site.Username, "WIKI_USERNAME")
	overrideString(&cfg.Site.Password, "WIKI_PASSWORD")
	overrideString(&cfg.Site.ClientPEM, "WIKI_CLIENT_PEM")
	overrideString(&cfg.Site.KeyPEM, "WIKI_KEY_PEM")
	overrideString(&cfg.DatabasePath, "DATABASE_PATH")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.WorkPath, "WORK_PATH")
	overrideString(&cfg.MetricsFile, "METRICS_FILE")
	overrideString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")

	if raw := os.Getenv("WIKI_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: WIKI_RPS %q: %v", ErrInvalid, raw, err)
		}
		cfg.RequestsPerSecond = rps
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: TELEGRAM_CHAT_ID %q: %v", ErrInvalid, raw, err)
		}
		cfg.Telegram.ChatID = id
	}

	cfg.applyDefaults()
	if err := cfg.Site.Validate(); err != nil {
		return nil, err
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID == 0 {
		return nil, fmt.Errorf("%w: TELEGRAM_CHAT_ID is required when a bot token is set", ErrInvalid)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Site.ApplyDefaults()
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/wikitool.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WorkPath == "" {
		if wd, err := os.Getwd(); err == nil {
			c.WorkPath = wd
		} else {
			c.WorkPath = "."
		}
	}
	if c.UserAgent == "" {
		c.UserAgent = "wikitool/" + Version
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// ApplyDefaults fills the unset connection fields.
func (s *Site) ApplyDefaults() {
	if s.Path == "" {
		s.Path = "/"
	}
	if !strings.HasSuffix(s.Path, "/") {
		s.Path += "/"
	}
	if s.Scheme == "" {
		s.Scheme = "http"
	}
	if s.Auth == "" {
		s.Auth = AuthNone
	}
}

// Validate checks the connection settings. An empty host is allowed: the
// shell can connect later.
func (s *Site) Validate() error {
	switch s.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q must be http or https", ErrInvalid, s.Scheme)
	}
	switch s.Auth {
	case AuthNone, AuthHTTP, AuthOldLogin:
	case AuthSSL:
		if s.ClientPEM == "" {
			return fmt.Errorf("%w: auth ssl requires client_pem", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: auth %q must be one of no-auth, http, old-login, ssl", ErrInvalid, s.Auth)
	}
	if (s.Auth == AuthHTTP || s.Auth == AuthOldLogin) && s.Username == "" {
		return fmt.Errorf("%w: auth %s requires a username", ErrInvalid, s.Auth)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
