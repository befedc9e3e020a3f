package config

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	LLM     LLM     `yaml:"llm"`
	Output  Output  `yaml:"output"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

type LLM struct {
	Enabled          bool   `yaml:"enabled"`
	APIKeyEnv        string `yaml:"api_key_env"`
	Endpoint         string `yaml:"endpoint"`
	Model            string `yaml:"model"`
	ExtractMaxTokens int    `yaml:"extract_max_tokens"`
	RulesMaxTokens   int    `yaml:"rules_max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// APIKey returns the credential from the configured environment variable.
// Keys that do not look like a provider key (prefix "sk-", at least 20
// characters) are treated as absent, so a garbage value disables the LLM
// features instead of producing confusing authentication failures.
func (l LLM) APIKey() string {
	key := os.Getenv(l.APIKeyEnv)
	if key == "" {
		return ""
	}
	if !strings.HasPrefix(key, "sk-") || len(key) < 20 {
		log.Printf("ignoring malformed API key in %s", l.APIKeyEnv)
		return ""
	}
	return key
}

// ConfigDir returns the XDG config directory for notex.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "notex")
}

// DataDir returns the XDG data directory for notex.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "notex")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/notex/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'notex init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Enabled:          true,
			APIKeyEnv:        "DEEPSEEK_API_KEY",
			Endpoint:         "https://api.deepseek.com",
			Model:            "deepseek-chat",
			ExtractMaxTokens: 1000,
			RulesMaxTokens:   2000,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
