// Package config loads the CLI configuration from the user's config
// directory and the environment. Environment variables take precedence
// over the file for API keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/dispatch/pkg/dispatch"
	"github.com/zen-systems/dispatch/pkg/history"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	Engine          EngineConfig
	History         HistoryConfig
	ConfigDir       string
}

// FileConfig represents the structure of ~/.dispatch/config.yaml.
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
	Engine  EngineConfig  `yaml:"engine,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// EngineConfig holds the attempt-loop tunables.
type EngineConfig struct {
	QualityThreshold    float64 `yaml:"quality_threshold,omitempty"`
	MaxAttempts         int     `yaml:"max_attempts,omitempty"`
	MinHistoryForKNN    int     `yaml:"min_history_for_knn,omitempty"`
	MinSimilarity       float64 `yaml:"min_similarity,omitempty"`
	MaxExecutionSeconds int     `yaml:"max_execution_seconds,omitempty"`
	ReframingEnabled    *bool   `yaml:"reframing_enabled,omitempty"`
}

// HistoryConfig holds the attempt-history store settings.
type HistoryConfig struct {
	Path         string `yaml:"path,omitempty"`
	MaxRecords   int    `yaml:"max_records,omitempty"`
	HalfLifeDays int    `yaml:"half_life_days,omitempty"`
}

// Load reads configuration from the config file and environment variables.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		Engine:          fileConfig.Engine,
		History:         fileConfig.History,
		ConfigDir:       configDir,
	}

	if path := os.Getenv("DISPATCH_HISTORY_PATH"); path != "" {
		cfg.History.Path = path
	}
	applyDefaults(cfg)
	return cfg, nil
}

// HasProvider returns true if the API key for the given provider is
// configured.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return false
	}
}

// EngineConfig converts the file settings into an engine configuration.
func (c *Config) EngineConfig() dispatch.Config {
	engine := dispatch.DefaultConfig()
	if c.Engine.QualityThreshold > 0 {
		engine.QualityThreshold = c.Engine.QualityThreshold
	}
	if c.Engine.MaxAttempts > 0 {
		engine.MaxAttempts = c.Engine.MaxAttempts
	}
	if c.Engine.MinHistoryForKNN > 0 {
		engine.MinHistoryForKNN = c.Engine.MinHistoryForKNN
	}
	if c.Engine.MinSimilarity > 0 {
		engine.MinSimilarity = c.Engine.MinSimilarity
	}
	if c.Engine.MaxExecutionSeconds > 0 {
		engine.MaxExecutionTime = time.Duration(c.Engine.MaxExecutionSeconds) * time.Second
	}
	if c.Engine.ReframingEnabled != nil {
		engine.ReframingEnabled = *c.Engine.ReframingEnabled
	}
	return engine
}

// HistoryOptions converts the file settings into history store options.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		MaxRecords: c.History.MaxRecords,
		HalfLife:   time.Duration(c.History.HalfLifeDays) * 24 * time.Hour,
	}
}

// HistoryPath returns the configured attempt-log location.
func (c *Config) HistoryPath() string {
	return c.History.Path
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.ConfigDir, "history.jsonl")
	}
	if cfg.Engine.ReframingEnabled == nil {
		enabled := true
		cfg.Engine.ReframingEnabled = &enabled
	}
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".dispatch")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
