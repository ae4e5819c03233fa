// Package config loads the RuntimeConfig that drives the analysis
// pipeline: LLM provider selection, concurrency limits, storage location,
// and context-window budgets. Layering follows the donor's viper-based
// convention (defaults, then a YAML file, then environment variables),
// generalized to this domain's settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default values, analogous to TaskWing's defaults.go constants.
const (
	DefaultProvider        = "openai"
	DefaultModel           = "gpt-4o-mini"
	DefaultDataDir         = "./data"
	DefaultContextBudget   = 8000 // characters, per spec §4.2 (character-based, not token-based)
	DefaultMaxChapterChars = 20000
	DefaultConcurrency     = 3
)

// LLMConfig holds provider connection settings for a single role (primary
// extraction model vs. an optional cheaper pre-scan model).
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// RuntimeConfig is the fully resolved configuration for one run of the
// pipeline, whether driven by cmd/novelctl or embedded in a test harness.
type RuntimeConfig struct {
	Primary LLMConfig `mapstructure:"primary"`
	PreScan LLMConfig `mapstructure:"prescan"`

	DataDir string `mapstructure:"data_dir"`

	ContextBudgetChars int `mapstructure:"context_budget_chars"`
	MaxChapterChars     int `mapstructure:"max_chapter_chars"`

	Concurrency int `mapstructure:"concurrency"`

	LogLevel  string `mapstructure:"log_level"`
	LogJSON   bool   `mapstructure:"log_json"`
}

// DBPath returns the sqlite file path within DataDir.
func (c RuntimeConfig) DBPath() string {
	return filepath.Join(c.DataDir, "novelpipe.db")
}

// Load resolves a RuntimeConfig from defaults, an optional YAML file at
// configPath (skipped silently if empty or missing), and environment
// variables prefixed NOVELPIPE_ (e.g. NOVELPIPE_PRIMARY_API_KEY).
func Load(configPath string) (RuntimeConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NOVELPIPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return RuntimeConfig{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("primary.provider", DefaultProvider)
	v.SetDefault("primary.model", DefaultModel)
	v.SetDefault("primary.api_key", "")
	v.SetDefault("primary.base_url", "")
	v.SetDefault("prescan.provider", "")
	v.SetDefault("prescan.model", "")
	v.SetDefault("prescan.api_key", "")
	v.SetDefault("prescan.base_url", "")
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("context_budget_chars", DefaultContextBudget)
	v.SetDefault("max_chapter_chars", DefaultMaxChapterChars)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

func validate(cfg RuntimeConfig) error {
	if cfg.Primary.Provider == "" {
		return fmt.Errorf("config: primary.provider must not be empty")
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.ContextBudgetChars <= 0 {
		return fmt.Errorf("config: context_budget_chars must be positive, got %d", cfg.ContextBudgetChars)
	}
	return nil
}
