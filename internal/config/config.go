// Package config loads NodeSpace's process configuration.
//
// The teacher is configured entirely by its JS host passing a Config struct
// across the WASM boundary (pkg/batch.Config); there is no file/env loader to
// generalize directly. NodeSpace now runs standalone, so it adopts the
// config stack the CLI repos in the retrieved corpus use for exactly this
// (spf13/viper over a BurntSushi/toml-formatted file), per §6's environment
// contract: MCP_PORT and a persisted database-location preference are the
// only externally supplied settings the core reads.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	defaultMCPPort = 3100
	envMCPPort     = "MCP_PORT"
)

// Config is the fully resolved process configuration.
type Config struct {
	// MCPPort is the HTTP transport's listen port (§6).
	MCPPort int `mapstructure:"mcp_port" toml:"mcp_port"`
	// DatabaseDir is where the embedded store's file lives (§6).
	DatabaseDir string `mapstructure:"database_dir" toml:"database_dir"`
	// LogLevel is a zerolog level name ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
	// SchemaSeedPath points at the YAML file of core schema definitions
	// bootstrapped at startup by the Schema Registry.
	SchemaSeedPath string `mapstructure:"schema_seed_path" toml:"schema_seed_path"`
}

// Load resolves configuration from (in ascending priority):
//  1. built-in defaults
//  2. ~/.nodespace/config.toml, if present
//  3. the MCP_PORT environment variable (the only env var the core reads)
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	nodespaceDir := filepath.Join(home, ".nodespace")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(nodespaceDir)

	v.SetDefault("mcp_port", defaultMCPPort)
	v.SetDefault("database_dir", filepath.Join(nodespaceDir, "database"))
	v.SetDefault("log_level", "info")
	v.SetDefault("schema_seed_path", filepath.Join(nodespaceDir, "schemas.seed.yaml"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No persisted preference file yet: write one with the resolved
		// defaults so the user has something to edit on the next run.
		if err := writeDefaultFile(nodespaceDir); err != nil {
			return nil, err
		}
	}

	// MCP_PORT is the one environment variable the core reads (§6); it
	// overrides both the default and any config-file value.
	if err := v.BindEnv("mcp_port", envMCPPort); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeDefaultFile materializes config.toml with the built-in defaults, so
// a first run leaves behind a file the user can edit rather than silent
// in-memory-only defaults. Viper reads TOML back in via pelletier/go-toml,
// but has no writer for it, so the file itself is encoded with the teacher
// corpus's TOML library directly.
func writeDefaultFile(nodespaceDir string) error {
	if err := os.MkdirAll(nodespaceDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(nodespaceDir, "config.toml")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(Config{
		MCPPort:        defaultMCPPort,
		DatabaseDir:    filepath.Join(nodespaceDir, "database"),
		LogLevel:       "info",
		SchemaSeedPath: filepath.Join(nodespaceDir, "schemas.seed.yaml"),
	})
}
