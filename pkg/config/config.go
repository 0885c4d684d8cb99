// Package config provides configuration loading, validation, and management.
//
// A single global Config instance is maintained in memory, protected by a
// mutex, and always handed out BY VALUE so callers cannot mutate shared
// state. All config changes must increment SchemaVersion. State (records,
// backups) never lives in config; config holds only settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"memai/pkg/budget"
	"memai/pkg/logx"
)

// SchemaVersion is the current config schema. Increment on breaking change.
const SchemaVersion = 1

const (
	configFileName  = "config.json"
	budgetsFileName = "budgets.yaml"

	// DefaultOllamaHost is the standard local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultFallbackContextWindow is used when neither the server nor the
	// model-name heuristic yields a window size.
	DefaultFallbackContextWindow = 4096
)

// Config holds all user-adjustable settings.
type Config struct {
	SchemaVersion         int          `json:"schema_version"`
	OllamaHost            string       `json:"ollama_host"`
	MemoryDir             string       `json:"memory_dir"`
	CharsPerToken         int          `json:"chars_per_token"`
	BackupRetention       int          `json:"backup_retention"`
	FallbackContextWindow int          `json:"fallback_context_window"`
	Budgets               BudgetConfig `json:"budgets,omitzero"`
}

// BudgetConfig optionally overrides the built-in per-mode budget profiles.
// It is also the shape of the budgets.yaml override file.
type BudgetConfig struct {
	Chat  *budget.Profile `json:"chat,omitempty" yaml:"chat,omitempty"`
	Tools *budget.Profile `json:"tools,omitempty" yaml:"tools,omitempty"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config  *Config
	homeDir string // Immutable after LoadConfig - set once at startup
	mu      sync.RWMutex
)

// DefaultHome returns the default memai home directory (~/.memai).
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memai"
	}
	return filepath.Join(home, ".memai")
}

// DefaultConfig returns the built-in configuration rooted at home.
func DefaultConfig(home string) Config {
	return Config{
		SchemaVersion:         SchemaVersion,
		OllamaHost:            DefaultOllamaHost,
		MemoryDir:             filepath.Join(home, "memory"),
		CharsPerToken:         4,
		BackupRetention:       3,
		FallbackContextWindow: DefaultFallbackContextWindow,
	}
}

// Validate checks settings for internal consistency, including any budget
// profile overrides.
func (c *Config) Validate() error {
	if c.SchemaVersion < 1 {
		return fmt.Errorf("schema_version %d below 1", c.SchemaVersion)
	}
	if c.OllamaHost == "" {
		return fmt.Errorf("ollama_host missing")
	}
	if c.MemoryDir == "" {
		return fmt.Errorf("memory_dir missing")
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("chars_per_token must be positive, got %d", c.CharsPerToken)
	}
	if c.FallbackContextWindow <= 0 {
		return fmt.Errorf("fallback_context_window must be positive, got %d", c.FallbackContextWindow)
	}
	if c.Budgets.Chat != nil {
		if err := c.Budgets.Chat.Validate(); err != nil {
			return fmt.Errorf("budgets.chat: %w", err)
		}
	}
	if c.Budgets.Tools != nil {
		if err := c.Budgets.Tools.Validate(); err != nil {
			return fmt.Errorf("budgets.tools: %w", err)
		}
	}
	return nil
}

// BudgetProfiles returns the effective per-mode profiles: the built-in
// defaults with any configured overrides applied.
func (c *Config) BudgetProfiles() map[budget.Mode]budget.Profile {
	profiles := make(map[budget.Mode]budget.Profile, 2)
	if c.Budgets.Chat != nil {
		profiles[budget.ModeChat] = *c.Budgets.Chat
	}
	if c.Budgets.Tools != nil {
		profiles[budget.ModeTools] = *c.Budgets.Tools
	}
	return profiles
}

// LoadConfig loads (or initializes) the global config from home. A missing
// config file yields the defaults, persisted for next time. An optional
// budgets.yaml beside it overrides the budget profiles.
func LoadConfig(home string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(home, 0o755); err != nil {
		return logx.Wrap(err, "create config directory")
	}

	cfg := DefaultConfig(home)
	path := filepath.Join(home, configFileName)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if writeErr := writeConfig(&cfg, path); writeErr != nil {
			return writeErr
		}
	case err != nil:
		return logx.Wrap(err, "read config")
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return logx.Wrap(err, "parse config")
		}
	}

	if err := loadBudgetOverrides(&cfg, filepath.Join(home, budgetsFileName)); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return logx.Wrap(err, "validate config")
	}

	config = &cfg
	homeDir = home
	return nil
}

// loadBudgetOverrides applies budgets.yaml if present. Absence is not an
// error; a present-but-broken file is.
func loadBudgetOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return logx.Wrap(err, "read budget overrides")
	}

	var overrides BudgetConfig
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return logx.Wrap(err, "parse budget overrides")
	}
	if overrides.Chat != nil {
		cfg.Budgets.Chat = overrides.Chat
	}
	if overrides.Tools != nil {
		cfg.Budgets.Tools = overrides.Tools
	}
	return nil
}

// GetConfig returns the loaded config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded, call LoadConfig first")
	}
	return *config, nil
}

// UpdateOllamaHost atomically updates and persists the Ollama endpoint
// (the CLI saves a working non-default port for next time).
func UpdateOllamaHost(host string) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded, call LoadConfig first")
	}
	if host == "" {
		return fmt.Errorf("ollama host must not be empty")
	}

	updated := *config
	updated.OllamaHost = host
	if err := updated.Validate(); err != nil {
		return logx.Wrap(err, "validate config update")
	}
	if err := writeConfig(&updated, filepath.Join(homeDir, configFileName)); err != nil {
		return err
	}
	config = &updated
	return nil
}

func writeConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return logx.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return logx.Wrap(err, "write config")
	}
	return nil
}
