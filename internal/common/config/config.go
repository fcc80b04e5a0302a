// Package config provides configuration management for teleclaude.
// It supports loading configuration from a TOML file, environment variables, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for teleclaude.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds the bot credentials and the single authorized user.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	UserID   int64  `mapstructure:"user_id"`
	Username string `mapstructure:"username"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ClaudeConfig holds Claude Code CLI configuration.
type ClaudeConfig struct {
	// CLIPath is the claude binary to launch (default "claude", resolved via PATH).
	CLIPath string `mapstructure:"cli_path"`
	// RuleModel is the model used for Bash allow-rule synthesis.
	RuleModel string `mapstructure:"rule_model"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Dir returns the teleclaude configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/teleclaude"
	}
	return filepath.Join(home, ".config", "teleclaude")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.user_id", 0)
	v.SetDefault("telegram.username", "")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7680)

	v.SetDefault("claude.cli_path", "claude")
	v.SetDefault("claude.rule_model", "claude-3-5-haiku-latest")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads configuration from the default config file, environment variables, and defaults.
// Environment variables use the prefix TELECLAUDE_ with underscore-separated naming
// (e.g. TELECLAUDE_TELEGRAM_BOT_TOKEN) and override file values.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified file or the default location.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TELECLAUDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = Path()
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Missing file is fine; IsConfigured gates startup separately.
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if _, ok := err.(*os.PathError); !ok {
					return nil, fmt.Errorf("error reading config file: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if os.Getenv("VERBOSE") == "1" {
		cfg.Logging.Level = "debug"
	}

	return &cfg, nil
}

// IsConfigured reports whether the required Telegram credentials are present.
func (c *Config) IsConfigured() bool {
	return c.Telegram.BotToken != "" && c.Telegram.UserID != 0
}

// ChatIdentity returns the identity string for the authorized Telegram user.
func (c *Config) ChatIdentity() string {
	return fmt.Sprintf("telegram:%d", c.Telegram.UserID)
}

// ServerURL returns the base URL of the local HTTP server.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}
