package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel credentials and the LLM provider choice.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the upstream AI provider.
	LLM ProviderConfig `json:"llm"`
	// SystemPrompt is the global persona/instruction string used to seed
	// every conversation session, including the action tag protocol.
	SystemPrompt string `json:"system_prompt"`
}

// ProviderConfig selects and configures the upstream generative-AI provider.
type ProviderConfig struct {
	// Type names the provider implementation: "gemini", "openai" or "ollama".
	Type string `json:"type"`
	// APIKeys is the interchangeable credential set for the provider.
	// The engine rotates through them on rate-limit errors.
	APIKeys []string `json:"api_keys,omitempty"`
	// Model is the provider-side model identifier.
	Model string `json:"model"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways,
	// local Ollama instances).
	BaseURL string `json:"base_url,omitempty"`
	// Options carries provider-specific tuning knobs in free form.
	Options map[string]any `json:"options,omitempty"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if c.LLM.Type == "" {
		return fmt.Errorf("mandatory 'llm.type' configuration is missing")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("mandatory 'llm.model' configuration is missing")
	}
	if c.LLM.Type != "ollama" && len(c.LLM.APIKeys) == 0 {
		return fmt.Errorf("provider %q requires at least one entry in 'llm.api_keys'", c.LLM.Type)
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the engine.
type SystemConfig struct {
	// MaxRetries is the total number of upstream generation attempts
	// for one turn before the engine falls back to the apology reply.
	MaxRetries int `json:"max_retries"`
	// RetryBaseDelayMs is the first backoff step (in milliseconds) for
	// transient upstream errors; it doubles on each further attempt.
	RetryBaseDelayMs int `json:"retry_base_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for a single
	// upstream request. The context is cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media referenced by URL.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// CredentialCooldownMs is how long (in milliseconds) a rate-limited
	// credential stays quarantined before becoming eligible again.
	CredentialCooldownMs int `json:"credential_cooldown_ms"`
	// MaxToolDepth bounds how many tool-driven re-invocations of the
	// upstream model one user turn may trigger.
	MaxToolDepth int `json:"max_tool_depth"`
	// ToolTimeoutMs is the per-call execution budget for a single tool.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// RecentWindow is how many outbound messages per thread are kept for
	// resolving quote and undo indices.
	RecentWindow int `json:"recent_window"`
	// DispatchDelayMinMs / DispatchDelayMaxMs bound the randomized pause
	// between consecutive outbound messages of one reply.
	DispatchDelayMinMs int `json:"dispatch_delay_min_ms"`
	DispatchDelayMaxMs int `json:"dispatch_delay_max_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses are split into multiple bubbles.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// EnableTools globally toggles tool calling. If false, tool tags in
	// model output are stripped instead of executed.
	EnableTools bool `json:"enable_tools"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:           3,
		RetryBaseDelayMs:     500,
		LLMTimeoutMs:         120000,
		DownloadTimeoutMs:    10000,
		CredentialCooldownMs: 60000,
		MaxToolDepth:         3,
		ToolTimeoutMs:        30000,
		RecentWindow:         50,
		DispatchDelayMinMs:   300,
		DispatchDelayMaxMs:   1200,
		TelegramMessageLimit: 4000,
		EnableTools:          true,
		LogLevel:             "info",
	}
}

// Load reads and parses the JSON configuration files from the current working
// directory. It first loads 'config.json' (app config); a missing file is an
// error. It then calls LoadSystemConfig to load 'system.json', which always
// succeeds by falling back to defaults.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
