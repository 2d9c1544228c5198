package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
	assert.Equal(t, 0.5, cfg.Memory.RetrievalThreshold)
	assert.Equal(t, 20, cfg.Memory.TierK)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.StaleLock.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Memory, cfg.Memory)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := filepath.Join(t.TempDir(), "recall.toml")
	content := `
[server]
port = 9000

[llm]
provider = "ollama"
ollama_model = "qwen2.5"

[memory]
retrieval_threshold = 0.6
decay_half_life = "720h"

[scheduler]
analysis_initial = "5m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5", cfg.LLM.OllamaModel)
	assert.Equal(t, 0.6, cfg.Memory.RetrievalThreshold)
	assert.Equal(t, 720*time.Hour, cfg.Memory.DecayHalfLife.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.AnalysisInitial.Duration)
	// untouched keys keep defaults
	assert.Equal(t, 20, cfg.Memory.TierK)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nstale_lock = \"soon\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"redis without url", func(c *Config) { c.Database.Driver = "redis" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gpt" }},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"max below min", func(c *Config) { c.Scheduler.AnalysisMax = D(time.Second) }},
		{"zero floor", func(c *Config) { c.Memory.DecayFloor = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("RECALL_REDIS_URL", "redis://localhost:6379/0")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.AnthropicKey)
	assert.Equal(t, "redis", cfg.Database.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Database.RedisURL)
}
