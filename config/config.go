// Package config defines the Dispatch application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opsdeck/dispatch/gamify"
)

// Config is the top-level Dispatch configuration.
type Config struct {
	Server   ServerConfig `json:"server" yaml:"server"`
	Auth     AuthConfig   `json:"auth" yaml:"auth"`
	DataDir  string       `json:"data_dir" yaml:"data_dir"`
	LogLevel string       `json:"log_level" yaml:"log_level"`

	// XPPerTask is the XP awarded per completed task.
	XPPerTask int `json:"xp_per_task" yaml:"xp_per_task"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls dashboard authentication.
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser     string `json:"admin_user" yaml:"admin_user"`
	AdminPassHash string `json:"admin_pass_hash" yaml:"admin_pass_hash"` // bcrypt hash
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		DataDir:   "./data",
		LogLevel:  "info",
		XPPerTask: gamify.DefaultAward,
	}
}

// Load reads a YAML config file over the defaults and returns the parsed
// configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
