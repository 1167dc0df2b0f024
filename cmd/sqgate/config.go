// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	sqconfig "github.com/teradata-labs/sqgate/pkg/config"
	"github.com/teradata-labs/sqgate/pkg/sources"
)

// DefaultConfigFileName is the name of the config file, without extension.
const DefaultConfigFileName = "sqgate"

// Config holds all configuration for the gateway server.
// Priority: CLI flags > env vars > config file > defaults
type Config struct {
	// DataDir is computed from SQGATE_DATA_DIR or ~/.sqgate and never read from the file.
	DataDir string `mapstructure:"-"`

	Server       ServerConfig     `mapstructure:"server"`
	Logging      LoggingConfig    `mapstructure:"logging"`
	Poller       PollerConfig     `mapstructure:"poller"`
	Handles      HandlesConfig    `mapstructure:"handles"`
	Federation   FederationConfig `mapstructure:"federation"`
	Converter    ConverterConfig  `mapstructure:"converter"`
	QuerySources []string         `mapstructure:"query_sources"` // Initial query sources (default: local)
}

// ServerConfig holds gRPC and HTTP listener configuration.
type ServerConfig struct {
	Port             int              `mapstructure:"port"`
	Host             string           `mapstructure:"host"`
	HTTPPort         int              `mapstructure:"http_port"` // Health, metrics and SSE (0=disabled)
	EnableReflection bool             `mapstructure:"enable_reflection"`
	RequireUserID    bool             `mapstructure:"require_user_id"`
	CORS             CORSServerConfig `mapstructure:"cors"`
}

// CORSServerConfig holds CORS configuration for the HTTP endpoints.
type CORSServerConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"` // Cannot be true with wildcard origins
	MaxAge           int      `mapstructure:"max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // Optional; defaults to stdout/stderr
}

// PollerConfig holds standing query polling configuration.
type PollerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPendingResults int           `mapstructure:"max_pending_results"`
	MaxWaitToStart    time.Duration `mapstructure:"max_wait_to_start"`
	HistoryEnabled    bool          `mapstructure:"history_enabled"`
	HistoryDB         string        `mapstructure:"history_db"` // Default: $SQGATE_DATA_DIR/history.db
}

// HandlesConfig holds handle lifetime configuration.
type HandlesConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"` // 0 disables eviction
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// FederationConfig holds source and fan-out configuration.
type FederationConfig struct {
	SourcesFile    string        `mapstructure:"sources_file"` // Default: $SQGATE_DATA_DIR/sources.yaml
	HotReload      bool          `mapstructure:"hot_reload"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	SourceRate     float64       `mapstructure:"source_rate"` // Calls per second per source (0=unlimited)
	SourceBurst    int           `mapstructure:"source_burst"`
}

// ConverterConfig holds outgoing record configuration.
type ConverterConfig struct {
	OutgoingValidation  bool     `mapstructure:"outgoing_validation"`
	MandatoryAttributes []string `mapstructure:"mandatory_attributes"`
}

// LoadConfig loads configuration from file, environment, and flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(sqconfig.GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sqgate/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	// SQGATE_SERVER_PORT overrides server.port
	viper.SetEnvPrefix("SQGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = sqconfig.GetDataDir()
	if cfg.Poller.HistoryDB == "" {
		cfg.Poller.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.Federation.SourcesFile == "" {
		cfg.Federation.SourcesFile = filepath.Join(cfg.DataDir, "sources.yaml")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.port", 60061)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.http_port", 5016)
	viper.SetDefault("server.enable_reflection", true)
	viper.SetDefault("server.require_user_id", false)

	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "OPTIONS"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.exposed_headers", []string{"Content-Length", "Content-Type"})
	viper.SetDefault("server.cors.allow_credentials", false)
	viper.SetDefault("server.cors.max_age", 86400)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.file", "")

	viper.SetDefault("poller.interval", "60s")
	viper.SetDefault("poller.page_size", 500)
	viper.SetDefault("poller.max_pending_results", 10000)
	viper.SetDefault("poller.max_wait_to_start", "5m")
	viper.SetDefault("poller.history_enabled", true)
	viper.SetDefault("poller.history_db", "")

	viper.SetDefault("handles.idle_timeout", "0s")
	viper.SetDefault("handles.janitor_interval", "1m")

	viper.SetDefault("federation.sources_file", "")
	viper.SetDefault("federation.hot_reload", true)
	viper.SetDefault("federation.max_concurrency", 8)
	viper.SetDefault("federation.query_timeout", "30s")
	viper.SetDefault("federation.source_rate", 0.0)
	viper.SetDefault("federation.source_burst", 1)

	viper.SetDefault("converter.outgoing_validation", false)
	viper.SetDefault("converter.mandatory_attributes", []string{})

	viper.SetDefault("query_sources", []string{})
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.PageSize <= 0 {
		return fmt.Errorf("poller page size must be positive, got %d", c.Poller.PageSize)
	}
	if c.Poller.MaxPendingResults <= 0 {
		return fmt.Errorf("poller max pending results must be positive, got %d", c.Poller.MaxPendingResults)
	}
	if c.Handles.IdleTimeout < 0 {
		return fmt.Errorf("handle idle timeout cannot be negative, got %s", c.Handles.IdleTimeout)
	}
	if c.Federation.SourceRate < 0 {
		return fmt.Errorf("source rate cannot be negative, got %v", c.Federation.SourceRate)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (text, json)", c.Logging.Format)
	}
	if c.Converter.OutgoingValidation && len(c.Converter.MandatoryAttributes) == 0 {
		return fmt.Errorf("outgoing validation requires at least one mandatory attribute")
	}
	return nil
}

// SaveSecret stores a source DSN in the system keyring under key.
func SaveSecret(key, value string) error {
	return keyring.Set(sources.KeyringService, key, value)
}

// GetSecret reads a source DSN from the system keyring.
func GetSecret(key string) (string, error) {
	return keyring.Get(sources.KeyringService, key)
}

// DeleteSecret removes a source DSN from the system keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(sources.KeyringService, key)
}
