package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "omni"
	DefaultPGSSLMode      = "disable"
	DefaultPollInterval   = 120
	DefaultFetchTimeout   = 30
	DefaultOAuthStateTTL  = "10m"
	DefaultBackoffBase    = "30s"
	DefaultBackoffCap     = "15m"
	DefaultErrorThreshold = 5
)

type Config struct {
	Log       LogConfig                 `toml:"log"`
	Server    ServerConfig              `toml:"server"`
	Auth      AuthConfig                `toml:"auth"`
	Postgres  PostgresConfig            `toml:"postgres"`
	Vault     VaultConfig               `toml:"vault"`
	Poller    PollerConfig              `toml:"poller"`
	OAuth     OAuthConfig               `toml:"oauth"`
	Platforms map[string]PlatformConfig `toml:"platforms"`
	Email     EmailConfig               `toml:"email"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// VaultConfig carries the symmetric key for credential encryption at rest.
// The key is hex encoded and must decode to 16, 24, or 32 bytes.
type VaultConfig struct {
	KeyHex string `toml:"key"`
}

type PollerConfig struct {
	DefaultIntervalSeconds int    `toml:"default_interval_seconds"`
	FetchTimeoutSeconds    int    `toml:"fetch_timeout_seconds"`
	BackoffBase            string `toml:"backoff_base"`
	BackoffCap             string `toml:"backoff_cap"`
	ErrorThreshold         int    `toml:"error_threshold"`
}

// FetchTimeout returns the per-connector-call timeout.
func (p PollerConfig) FetchTimeout() time.Duration {
	if p.FetchTimeoutSeconds <= 0 {
		return DefaultFetchTimeout * time.Second
	}
	return time.Duration(p.FetchTimeoutSeconds) * time.Second
}

// Backoff returns the parsed backoff base and cap, falling back to defaults
// when unset or unparsable.
func (p PollerConfig) Backoff() (base, cap time.Duration) {
	base, err := time.ParseDuration(p.BackoffBase)
	if err != nil || base <= 0 {
		base, _ = time.ParseDuration(DefaultBackoffBase)
	}
	cap, err = time.ParseDuration(p.BackoffCap)
	if err != nil || cap <= 0 {
		cap, _ = time.ParseDuration(DefaultBackoffCap)
	}
	return base, cap
}

type OAuthConfig struct {
	StateTTL    string `toml:"state_ttl"`
	CallbackURL string `toml:"callback_url"`
}

// ParsedStateTTL parses the configured OAuth state lifetime.
func (o OAuthConfig) ParsedStateTTL() (time.Duration, error) {
	raw := o.StateTTL
	if raw == "" {
		raw = DefaultOAuthStateTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse oauth state ttl: %w", err)
	}
	return d, nil
}

// PlatformConfig holds per-platform OAuth client credentials and endpoints.
type PlatformConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	APIBaseURL   string   `toml:"api_base_url"`
	Scopes       []string `toml:"scopes"`
}

// EmailConfig selects and configures the outbound email sender.
type EmailConfig struct {
	Sender         string `toml:"sender"`
	MailgunDomain  string `toml:"mailgun_domain"`
	MailgunAPIKey  string `toml:"mailgun_api_key"`
	MailgunBaseURL string `toml:"mailgun_base_url"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Poller: PollerConfig{
			DefaultIntervalSeconds: DefaultPollInterval,
			FetchTimeoutSeconds:    DefaultFetchTimeout,
			BackoffBase:            DefaultBackoffBase,
			BackoffCap:             DefaultBackoffCap,
			ErrorThreshold:         DefaultErrorThreshold,
		},
		OAuth: OAuthConfig{
			StateTTL: DefaultOAuthStateTTL,
		},
		Email: EmailConfig{
			Sender: "smtp",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
