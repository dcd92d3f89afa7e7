// Package config loads and validates Stride configuration.
// Configuration lives in ~/.stride/config.yaml and can be overridden by
// STRIDE_* environment variables. Every routing threshold, keyword list,
// cache TTL, and provider setting is configuration rather than a constant;
// the heuristics were tuned empirically and operators are expected to
// adjust them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all Stride configuration.
type Config struct {
	Routing  RoutingConfig  `mapstructure:"routing" yaml:"routing"`
	Persona  PersonaConfig  `mapstructure:"persona" yaml:"persona"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// RoutingConfig tunes the context router's classification heuristics.
type RoutingConfig struct {
	// SimpleMaxChars is the length ceiling for the simple-parsing route.
	SimpleMaxChars int `mapstructure:"simple_max_chars" yaml:"simple_max_chars"`
	// SimpleVerbs are action-verb prefixes that signal a quick command.
	SimpleVerbs []string `mapstructure:"simple_verbs" yaml:"simple_verbs"`
	// WorkflowKeywords signal multi-step planning or analysis work.
	WorkflowKeywords []string `mapstructure:"workflow_keywords" yaml:"workflow_keywords"`
	// WorkflowPatterns are regexes that signal workflow intent (2x keyword weight).
	WorkflowPatterns []string `mapstructure:"workflow_patterns" yaml:"workflow_patterns"`
	// ChainThreshold is the chain probability above which an active workflow
	// keeps the function-calling route.
	ChainThreshold float64 `mapstructure:"chain_threshold" yaml:"chain_threshold"`
	// ChainIncrement is added toward 1.0 after each executed function.
	ChainIncrement float64 `mapstructure:"chain_increment" yaml:"chain_increment"`
	// ChainDecay is subtracted toward 0 after each turn without a function call.
	ChainDecay float64 `mapstructure:"chain_decay" yaml:"chain_decay"`
	// ChainIdleTurns is how many function-free turns clear an active workflow.
	ChainIdleTurns int `mapstructure:"chain_idle_turns" yaml:"chain_idle_turns"`
	// RecentFunctionLimit bounds the remembered function-name window.
	RecentFunctionLimit int `mapstructure:"recent_function_limit" yaml:"recent_function_limit"`
	// HybridManifest controls whether hybrid-route prompts carry the
	// function manifest. Costs tokens, buys capability.
	HybridManifest bool `mapstructure:"hybrid_manifest" yaml:"hybrid_manifest"`
}

// PersonaConfig tunes prompt assembly.
type PersonaConfig struct {
	// DefaultMode is the persona used when the profile has no selection.
	DefaultMode string `mapstructure:"default_mode" yaml:"default_mode"`
	// HistoryTurns is how many recent turns are included in the prompt.
	HistoryTurns int `mapstructure:"history_turns" yaml:"history_turns"`
	// TurnMaxChars compacts each included turn to this many characters.
	TurnMaxChars int `mapstructure:"turn_max_chars" yaml:"turn_max_chars"`
	// TokenCeiling is the approximate token budget; exceeding it logs a
	// warning but never blocks sending.
	TokenCeiling int `mapstructure:"token_ceiling" yaml:"token_ceiling"`
	// DefinitionsDir optionally overrides built-in personas with YAML files.
	DefinitionsDir string `mapstructure:"definitions_dir" yaml:"definitions_dir,omitempty"`
	// Adaptation holds the health-signal thresholds for context adaptation.
	Adaptation AdaptationConfig `mapstructure:"adaptation" yaml:"adaptation"`
}

// AdaptationConfig holds the discrete thresholds that trigger persona
// context-adaptation clauses.
type AdaptationConfig struct {
	// LowEnergyBelow softens intensity when energy (0-1) drops under it.
	LowEnergyBelow float64 `mapstructure:"low_energy_below" yaml:"low_energy_below"`
	// HighStressAbove prioritizes support when stress (0-1) exceeds it.
	HighStressAbove float64 `mapstructure:"high_stress_above" yaml:"high_stress_above"`
	// PoorSleepBelowHours switches to recovery framing under this much sleep.
	PoorSleepBelowHours float64 `mapstructure:"poor_sleep_below_hours" yaml:"poor_sleep_below_hours"`
	// LowRecoveryBelow flags recovery risk when the score (0-1) drops under it.
	LowRecoveryBelow float64 `mapstructure:"low_recovery_below" yaml:"low_recovery_below"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	// Enabled turns the cache off entirely when false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MemorySize is the hot-tier LRU capacity in entries.
	MemorySize int `mapstructure:"memory_size" yaml:"memory_size"`
	// DefaultTTL applies when a caller does not specify one.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`
}

// StoreConfig locates the persistent store.
type StoreConfig struct {
	// DataDir is the local directory holding the SQLite database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// LLMConfig configures model providers and orchestration.
type LLMConfig struct {
	// DefaultProvider is used when a task category has no explicit chain.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their settings.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// Fallback maps task categories (parsing, conversation, classification)
	// to an ordered provider preference chain.
	Fallback map[string][]string `mapstructure:"fallback" yaml:"fallback"`
	// CostCeilingUSD skips providers whose estimated per-call cost exceeds it
	// for cost-sensitive task categories. Zero disables the ceiling.
	CostCeilingUSD float64 `mapstructure:"cost_ceiling_usd" yaml:"cost_ceiling_usd"`
	// ErrorRateThreshold is the rolling error rate above which a provider is
	// skipped during selection (unless it is the only candidate).
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold"`
	// HealthWindow is the number of recent outcomes in the rolling window.
	HealthWindow int `mapstructure:"health_window" yaml:"health_window"`
	// RequestTimeout bounds every provider call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily for local providers).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
}

// DispatchConfig tunes function execution.
type DispatchConfig struct {
	// Timeout bounds each dispatched function call. Per-call timeouts are
	// capped at this value.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	strideDir := filepath.Join(homeDir, ".stride")

	return &Config{
		Routing: RoutingConfig{
			SimpleMaxChars: 60,
			SimpleVerbs:    []string{"log", "add", "track", "record", "note", "save"},
			WorkflowKeywords: []string{
				"plan", "program", "schedule", "adjust", "restructure",
				"analyze", "compare", "periodize", "progression", "week",
			},
			WorkflowPatterns: []string{
				`build .{0,30}(plan|program|routine|split)`,
				`(create|design|make) .{0,30}(plan|program|routine)`,
				`adjust .{0,30}(plan|program|week)`,
				`what if i (miss|skip)`,
			},
			ChainThreshold:      0.7,
			ChainIncrement:      0.3,
			ChainDecay:          0.25,
			ChainIdleTurns:      2,
			RecentFunctionLimit: 5,
			HybridManifest:      true,
		},
		Persona: PersonaConfig{
			DefaultMode:  "supporter",
			HistoryTurns: 5,
			TurnMaxChars: 280,
			TokenCeiling: 2000,
			Adaptation: AdaptationConfig{
				LowEnergyBelow:      0.35,
				HighStressAbove:     0.7,
				PoorSleepBelowHours: 6.0,
				LowRecoveryBelow:    0.4,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			MemorySize: 512,
			DefaultTTL: 15 * time.Minute,
		},
		Store: StoreConfig{
			DataDir: strideDir,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			Providers: map[string]ProviderConfig{
				"anthropic": {
					Model: "claude-3-5-sonnet-20241022",
				},
				"openai": {
					Model: "gpt-4o-mini",
				},
				"gemini": {
					Model: "gemini-1.5-flash",
				},
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3.2",
				},
			},
			Fallback: map[string][]string{
				"parsing":        {"gemini", "openai", "ollama"},
				"conversation":   {"anthropic", "gemini", "openai"},
				"classification": {"ollama", "gemini", "openai"},
			},
			CostCeilingUSD:     0,
			ErrorRateThreshold: 0.5,
			HealthWindow:       20,
			RequestTimeout:     2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the default location (~/.stride/config.yaml)
// and merges with environment variables. If no config file exists, one is
// created with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".stride", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it is created with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: STRIDE_LLM_PROVIDERS_ANTHROPIC_API_KEY
	v.SetEnvPrefix("STRIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Store.DataDir = expandPath(cfg.Store.DataDir)
	cfg.Persona.DefinitionsDir = expandPath(cfg.Persona.DefinitionsDir)

	return &cfg, nil
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// EnsureDirectories creates all directories Stride needs to operate.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Store.DataDir}
	if c.Persona.DefinitionsDir != "" {
		dirs = append(dirs, c.Persona.DefinitionsDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Routing.SimpleMaxChars <= 0 {
		return fmt.Errorf("routing.simple_max_chars must be positive")
	}
	if c.Routing.ChainThreshold < 0 || c.Routing.ChainThreshold > 1 {
		return fmt.Errorf("routing.chain_threshold must be between 0 and 1")
	}
	if c.Routing.RecentFunctionLimit <= 0 {
		return fmt.Errorf("routing.recent_function_limit must be positive")
	}

	if c.Persona.HistoryTurns <= 0 {
		return fmt.Errorf("persona.history_turns must be positive")
	}
	if c.Persona.TokenCeiling <= 0 {
		return fmt.Errorf("persona.token_ceiling must be positive")
	}

	if c.Cache.MemorySize <= 0 {
		return fmt.Errorf("cache.memory_size must be positive")
	}

	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}
	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}
	for category, chain := range c.LLM.Fallback {
		for _, name := range chain {
			if _, exists := c.LLM.Providers[name]; !exists {
				return fmt.Errorf("fallback chain for '%s' references unknown provider '%s'", category, name)
			}
		}
	}
	if c.LLM.ErrorRateThreshold < 0 || c.LLM.ErrorRateThreshold > 1 {
		return fmt.Errorf("llm.error_rate_threshold must be between 0 and 1")
	}

	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
