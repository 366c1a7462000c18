package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSystemConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadSystemConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	def := DefaultSystemConfig()
	assert.Equal(t, def, cfg)
}

func TestLoadSystemConfigCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cfg := LoadSystemConfig(path)
	assert.Equal(t, DefaultSystemConfig(), cfg)
}

func TestLoadSystemConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_tool_depth": 7, "log_level": "debug"}`), 0644))

	cfg := LoadSystemConfig(path)
	assert.Equal(t, 7, cfg.MaxToolDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultSystemConfig().MaxRetries, cfg.MaxRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing type",
			cfg:     Config{LLM: ProviderConfig{Model: "m"}},
			wantErr: "llm.type",
		},
		{
			name:    "missing model",
			cfg:     Config{LLM: ProviderConfig{Type: "gemini", APIKeys: []string{"k"}}},
			wantErr: "llm.model",
		},
		{
			name:    "hosted provider without keys",
			cfg:     Config{LLM: ProviderConfig{Type: "gemini", Model: "m"}},
			wantErr: "api_keys",
		},
		{
			name: "ollama without keys is fine",
			cfg:  Config{LLM: ProviderConfig{Type: "ollama", Model: "m"}},
		},
		{
			name: "valid",
			cfg:  Config{LLM: ProviderConfig{Type: "gemini", Model: "m", APIKeys: []string{"a", "b"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
