package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all recall configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Memory    MemoryConfig    `toml:"memory"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"` // "sqlite", "redis"
	Path        string `toml:"path"`
	RedisURL    string `toml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix"`
}

type LLMConfig struct {
	Provider      string  `toml:"provider"` // "claude-cli", "anthropic", "openai", "ollama"
	Model         string  `toml:"model"`
	OllamaURL     string  `toml:"ollama_url"`
	OllamaModel   string  `toml:"ollama_model"`
	AnthropicKey  string  `toml:"anthropic_key"`
	OpenAIKey     string  `toml:"openai_key"`
	OpenAIBaseURL string  `toml:"openai_base_url"`
	MaxTokens     int     `toml:"max_tokens"`
	RatePerMinute float64 `toml:"rate_per_minute"` // 0 disables limiting
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "ollama", "openai", "tfidf", "none"
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	CacheItems int64  `toml:"cache_items"`
}

type MemoryConfig struct {
	RetrievalThreshold float64  `toml:"retrieval_threshold"`
	TierK              int      `toml:"tier_k"`
	RecentMessages     int      `toml:"recent_messages"`
	DefaultLimit       int      `toml:"default_limit"`
	DedupRatio         float64  `toml:"dedup_ratio"`
	SemanticDedup      float64  `toml:"semantic_dedup"` // 0 disables the embedding pass
	AssistantCap       int      `toml:"assistant_cap"`
	ShortTermCap       int      `toml:"short_term_cap"`
	LongTermCap        int      `toml:"long_term_cap"`
	FreshnessLongTerm  float64  `toml:"freshness_long_term"`
	FreshnessShortTerm float64  `toml:"freshness_short_term"`
	FreshnessAssistant float64  `toml:"freshness_assistant"`
	DecayHalfLife      Duration `toml:"decay_half_life"`
	DecayFloor         float64  `toml:"decay_floor"`
	FreshnessHalfLife  Duration `toml:"freshness_half_life"`
	DefaultList        string   `toml:"default_list"`
	ExpandQueries      bool     `toml:"expand_queries"`
	PromptPosition     string   `toml:"prompt_position"` // "append", "prepend"
	KnownFactsInPrompt int      `toml:"known_facts_in_prompt"`
	MaxFactChars       int      `toml:"max_fact_chars"`
	ExtractionTimeout  Duration `toml:"extraction_timeout"`
	EmptyDeltaMemo     bool     `toml:"empty_delta_memo"`
}

type SchedulerConfig struct {
	RefreshEvery    Duration `toml:"refresh_every"`
	RefreshGate     Duration `toml:"refresh_gate"`
	AnalysisInitial Duration `toml:"analysis_initial"`
	AnalysisMin     Duration `toml:"analysis_min"`
	AnalysisMax     Duration `toml:"analysis_max"`
	StaleLock       Duration `toml:"stale_lock"`
	AutoRecommend   Duration `toml:"auto_recommend"` // 0 disables
	SuccessWindow   int      `toml:"success_window"`
	LowSuccess      float64  `toml:"low_success"`
	HighSuccess     float64  `toml:"high_success"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console", "json"
}

// Duration is a time.Duration that reads TOML strings such as "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// D wraps a time.Duration.
func D(v time.Duration) Duration { return Duration{v} }

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			Path:        "", // resolved at runtime via store.DefaultDBPath()
			RedisPrefix: "recall",
		},
		LLM: LLMConfig{
			Provider:  "claude-cli",
			Model:     "haiku",
			MaxTokens: 1024,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			CacheItems: 10000,
		},
		Memory: MemoryConfig{
			RetrievalThreshold: 0.5,
			TierK:              20,
			RecentMessages:     3,
			DefaultLimit:       5,
			DedupRatio:         0.8,
			SemanticDedup:      0.9,
			AssistantCap:       10,
			ShortTermCap:       10,
			LongTermCap:        10,
			FreshnessLongTerm:  0.3,
			FreshnessShortTerm: 2.0,
			FreshnessAssistant: 1.5,
			DecayHalfLife:      D(90 * 24 * time.Hour),
			DecayFloor:         0.1,
			FreshnessHalfLife:  D(7 * 24 * time.Hour),
			DefaultList:        "default",
			PromptPosition:     "append",
			KnownFactsInPrompt: 50,
			MaxFactChars:       500,
			ExtractionTimeout:  D(60 * time.Second),
			EmptyDeltaMemo:     true,
		},
		Scheduler: SchedulerConfig{
			RefreshEvery:    D(10 * time.Minute),
			RefreshGate:     D(30 * time.Minute),
			AnalysisInitial: D(time.Minute),
			AnalysisMin:     D(30 * time.Second),
			AnalysisMax:     D(30 * time.Minute),
			StaleLock:       D(60 * time.Second),
			AutoRecommend:   D(2 * time.Minute),
			SuccessWindow:   10,
			LowSuccess:      0.3,
			HighSuccess:     0.7,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns ~/.recall/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recall.toml"
	}
	return home + "/.recall/config.toml"
}

// Load reads a TOML file over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, goerr.Wrap(err, "read config", goerr.V("path", path))
		default:
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return cfg, goerr.Wrap(err, "parse config", goerr.V("path", path))
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RECALL_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("RECALL_REDIS_URL"); v != "" {
		c.Database.Driver = "redis"
		c.Database.RedisURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicKey = v
		if c.LLM.Provider == "claude-cli" {
			c.LLM.Provider = "anthropic"
			c.LLM.Model = ""
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks enumerations and interval bounds.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "redis":
	default:
		return goerr.New("unknown database driver", goerr.V("driver", c.Database.Driver))
	}
	if c.Database.Driver == "redis" && c.Database.RedisURL == "" {
		return goerr.New("redis driver requires redis_url")
	}

	switch c.LLM.Provider {
	case "claude-cli", "anthropic", "openai", "ollama", "none":
	default:
		return goerr.New("unknown llm provider", goerr.V("provider", c.LLM.Provider))
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "ollama", "openai", "tfidf", "none":
	default:
		return goerr.New("unknown embedding provider", goerr.V("provider", c.Embedding.Provider))
	}

	s := c.Scheduler
	if s.AnalysisMin.Duration <= 0 || s.AnalysisMax.Duration < s.AnalysisMin.Duration {
		return goerr.New("invalid analysis interval bounds",
			goerr.V("min", s.AnalysisMin.String()), goerr.V("max", s.AnalysisMax.String()))
	}
	if s.RefreshEvery.Duration <= 0 || s.StaleLock.Duration <= 0 {
		return goerr.New("scheduler intervals must be positive")
	}
	if c.Memory.DecayFloor <= 0 || c.Memory.DecayFloor > 1 {
		return goerr.New("decay_floor must be in (0,1]", goerr.V("decay_floor", c.Memory.DecayFloor))
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
