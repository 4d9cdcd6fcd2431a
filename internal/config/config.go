// Package config loads the gateway configuration from TOML with defaults
// applied before decoding and validation applied after.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "mailbridge"
	DefaultPGSSLMode  = "disable"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Assistant AssistantConfig `toml:"assistant"`
	Accounts  AccountsConfig  `toml:"accounts"`
	Slack     SlackConfig     `toml:"slack"`
	Teams     TeamsConfig     `toml:"teams"`
	Telegram  TelegramConfig  `toml:"telegram"`
	SMTP      SMTPConfig      `toml:"smtp"`
	Reminder  ReminderConfig  `toml:"reminder"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	// JWTSecret signs internal API tokens.
	JWTSecret string `toml:"jwt_secret"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// DSN builds the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// AssistantConfig points at the assistant pipeline's streaming endpoint.
type AssistantConfig struct {
	BaseURL   string `toml:"base_url" validate:"omitempty,url"`
	APISecret string `toml:"api_secret"`
}

// AccountsConfig points at the account service owning email accounts and
// pending action execution.
type AccountsConfig struct {
	BaseURL   string `toml:"base_url" validate:"omitempty,url"`
	APISecret string `toml:"api_secret"`
}

type SlackConfig struct {
	Enabled       bool   `toml:"enabled"`
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	SigningSecret string `toml:"signing_secret"`
	RedirectURL   string `toml:"redirect_url" validate:"omitempty,url"`
}

type TeamsConfig struct {
	Enabled     bool   `toml:"enabled"`
	AppID       string `toml:"app_id"`
	AppPassword string `toml:"app_password"`
	TenantID    string `toml:"tenant_id"`
}

type TelegramConfig struct {
	Enabled       bool   `toml:"enabled"`
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// SMTPConfig configures the fallback draft executor. When Host is empty the
// account service executes confirmations instead.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"omitempty,gt=0,lte=65535"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	StartTLS bool   `toml:"starttls"`
}

type ReminderConfig struct {
	Enabled bool `toml:"enabled"`
	// Schedule is a cron expression; the default fires hourly.
	Schedule    string `toml:"schedule"`
	Concurrency int    `toml:"concurrency" validate:"omitempty,gt=0"`
	QueueURL    string `toml:"queue_url" validate:"omitempty,url"`
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		SMTP: SMTPConfig{
			Port:     587,
			StartTLS: true,
		},
		Reminder: ReminderConfig{
			Schedule:    "0 * * * *",
			Concurrency: 10,
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

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
