package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".mindloop"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
// MINDLOOP_CONFIG overrides the default location.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("MINDLOOP_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home dir: %w", err)
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (if present) and applies environment overrides.
// A missing file is not an error; defaults are used.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = DefaultConfig().Paths.DataDir
	}
	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = filepath.Join(cfg.Paths.DataDir, "mindloop.db")
	}
	return cfg, nil
}

// applyEnvOverrides processes MINDLOOP_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	envconfig.Process("MINDLOOP_PATHS", &cfg.Paths)
	envconfig.Process("MINDLOOP_PROVIDER", &cfg.Provider)
	envconfig.Process("MINDLOOP_ENGINE", &cfg.Engine)
	envconfig.Process("MINDLOOP_LIMITER", &cfg.Limiter)
	envconfig.Process("MINDLOOP_GATEWAY", &cfg.Gateway)
	envconfig.Process("MINDLOOP_PUBLISH_KAFKA", &cfg.Publish.Kafka)
	envconfig.Process("MINDLOOP_PUBLISH_SLACK", &cfg.Publish.Slack)
}

// Save writes the config to the default path, creating the directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
