package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Writer implementations selectable with the "writer" key.
const (
	WriterShell  = "shell"
	WriterNative = "native"
)

// Config holds all application configuration
type Config struct {
	// HTTP surface
	ListenAddr     string   `mapstructure:"listen-addr"`
	EventsAddr     string   `mapstructure:"events-addr"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`

	// Images
	ImagesDir string `mapstructure:"images-dir"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Image writer
	Writer    string `mapstructure:"writer"`
	UseSudo   bool   `mapstructure:"use-sudo"`
	BlockSize string `mapstructure:"block-size"`

	// Provisioning
	BcryptCost int `mapstructure:"bcrypt-cost"`

	// Observers
	EventBuffer int `mapstructure:"event-buffer"`

	// S3 image source (optional)
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`
	S3Prefix string `mapstructure:"s3-prefix"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("listen-addr", ":5000")
	viper.SetDefault("events-addr", ":8080")
	viper.SetDefault("allowed-origins", []string{"*"})
	viper.SetDefault("images-dir", "./os_images")
	viper.SetDefault("sqlite-path", ".artifacts/installs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("writer", WriterShell)
	viper.SetDefault("use-sudo", true)
	viper.SetDefault("block-size", "4M")
	viper.SetDefault("bcrypt-cost", 12)
	viper.SetDefault("event-buffer", 64)
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-prefix", "")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")

	// Environment variables (PIFLASH_LISTEN_ADDR, etc.)
	viper.SetEnvPrefix("PIFLASH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.piflash")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr cannot be empty")
	}
	if c.ImagesDir == "" {
		return fmt.Errorf("images-dir cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.Writer != WriterShell && c.Writer != WriterNative {
		return fmt.Errorf("writer must be %q or %q, got %q", WriterShell, WriterNative, c.Writer)
	}
	if c.BlockSize == "" {
		return fmt.Errorf("block-size cannot be empty")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("bcrypt-cost must be between 4 and 31")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event-buffer must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json")
	}
	return nil
}

// ParseLevel maps a log-level name onto a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", name)
	}
	return level, nil
}
