// Package app loads runtime configuration and bootstraps shared
// infrastructure for the bridge process.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/campusconnect/ecsbridge/internal/database"
)

// Config represents the runtime configuration for the ECS bridge.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	AdminToken string `mapstructure:"admin_token"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// SyncConfig controls the polling worker.
type SyncConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// DatabaseOpenConfig converts the app-level settings into the storage
// layer's open parameters.
func (c *Config) DatabaseOpenConfig() database.Config {
	return database.Config{
		Driver:   c.Database.Driver,
		Path:     c.Database.Path,
		DSN:      c.Database.DSN,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.Username,
		Password: c.Database.Password,
		Name:     c.Database.Database,
	}
}

// LoadConfig initialises configuration using Viper with sensible defaults.
// A YAML file is optional; ECSBRIDGE_* environment variables override it.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ECSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8400)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ecsbridge.sqlite")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.http_timeout", "30s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
