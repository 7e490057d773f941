package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"WIKITOOL_CONFIG", "WIKI_HOST", "WIKI_PATH", "WIKI_SCHEME", "WIKI_AUTH", "WIKI_USERNAME",
	"WIKI_PASSWORD", "WIKI_CLIENT_PEM", "WIKI_KEY_PEM", "DATABASE_PATH", "LOG_LEVEL", "WORK_PATH",
	"METRICS_FILE", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "WIKI_RPS",
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tomlPath := writeFile(t, "wikitool.toml", `
database_path = "/var/lib/wikitool.db"
requests_per_second = 2.5

[site]
host = "wiki.example.org"
path = "/w"
scheme = "https"
auth = "old-login"
username = "bot"
password = "secret"
`)

	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
			want: &Config{
				Site:              Site{Path: "/", Scheme: "http", Auth: AuthNone},
				DatabasePath:      "./data/wikitool.db",
				LogLevel:          "info",
				WorkPath:          "/work",
				UserAgent:         "wikitool/" + Version,
				RequestsPerSecond: 5,
				Burst:             1,
			},
		},
		{
			name: "toml file",
			env:  map[string]string{"WIKITOOL_CONFIG": tomlPath},
			want: &Config{
				Site: Site{
					Host: "wiki.example.org", Path: "/w/", Scheme: "https",
					Auth: AuthOldLogin, Username: "bot", Password: "secret",
				},
				DatabasePath:      "/var/lib/wikitool.db",
				LogLevel:          "info",
				WorkPath:          "/work",
				UserAgent:         "wikitool/" + Version,
				RequestsPerSecond: 2.5,
				Burst:             1,
			},
		},
		{
			name: "env overrides toml",
			env: map[string]string{
				"WIKITOOL_CONFIG":    tomlPath,
				"WIKI_HOST":          "other.example.org",
				"LOG_LEVEL":          "debug",
				"WIKI_RPS":           "10",
				"TELEGRAM_BOT_TOKEN": "tok",
				"TELEGRAM_CHAT_ID":   "42",
			},
			want: &Config{
				Site: Site{
					Host: "other.example.org", Path: "/w/", Scheme: "https",
					Auth: AuthOldLogin, Username: "bot", Password: "secret",
				},
				Telegram:          Telegram{Token: "tok", ChatID: 42},
				DatabasePath:      "/var/lib/wikitool.db",
				LogLevel:          "debug",
				WorkPath:          "/work",
				UserAgent:         "wikitool/" + Version,
				RequestsPerSecond: 10,
				Burst:             1,
			},
		},
		{
			name:    "missing config file",
			env:     map[string]string{"WIKITOOL_CONFIG": filepath.Join(t.TempDir(), "nope.toml")},
			wantErr: true,
		},
		{
			name:    "bad auth",
			env:     map[string]string{"WIKI_AUTH": "kerberos"},
			wantErr: true,
		},
		{
			name:    "ssl without certificate",
			env:     map[string]string{"WIKI_AUTH": "ssl"},
			wantErr: true,
		},
		{
			name:    "telegram token without chat",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			wantErr: true,
		},
		{
			name:    "invalid rps",
			env:     map[string]string{"WIKI_RPS": "fast"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			t.Setenv("WORK_PATH", "/work")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSiteValidate(t *testing.T) {
	tests := []struct {
		name    string
		site    Site
		wantErr bool
	}{
		{name: "no auth", site: Site{Scheme: "http", Auth: AuthNone}},
		{name: "http auth needs user", site: Site{Scheme: "http", Auth: AuthHTTP}, wantErr: true},
		{name: "http auth with user", site: Site{Scheme: "https", Auth: AuthHTTP, Username: "u"}},
		{name: "ssl with pem", site: Site{Scheme: "https", Auth: AuthSSL, ClientPEM: "c.pem"}},
		{name: "bad scheme", site: Site{Scheme: "ftp", Auth: AuthNone}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.site.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
