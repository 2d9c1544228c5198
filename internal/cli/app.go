package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

const defaultOllamaURL = "http://localhost:11434"

// app bundles what a command needs: the loaded config, the open backend and
// the engine on top of it.
type app struct {
	cfg     config.Config
	backend store.Backend
	where   string
	eng     *engine.Engine
}

// Close stops the engine, waiting for pending saves, then closes the backend.
func (a *app) Close() {
	a.eng.Stop()
	a.backend.Close()
}

// loadConfig reads the config file and configures logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openBackend opens the configured persistent store. The returned string
// describes where state lives, for startup output.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, string, error) {
	if cfg.Database.Driver == "redis" {
		r, err := store.OpenRedis(ctx, cfg.Database.RedisURL, cfg.Database.RedisPrefix)
		if err != nil {
			return nil, "", fmt.Errorf("open redis: %w", err)
		}
		return r, "redis " + cfg.Database.RedisPrefix, nil
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	version, err := db.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, "", fmt.Errorf("read schema version: %w", err)
	}
	counts, err := db.CountRecords(ctx)
	if err != nil {
		db.Close()
		return nil, "", fmt.Errorf("count records: %w", err)
	}
	ev := logging.Debug().Str("path", dbPath).Int("schema", version)
	for _, t := range store.Tiers {
		ev = ev.Int(string(t), counts[t])
	}
	ev.Msg("store: opened")
	return db, dbPath, nil
}

// newEmbedder picks the embedding backend. An unreachable Ollama falls back
// to TF-IDF over the stored facts. A nil result disables semantic search.
func newEmbedder(ctx context.Context, cfg config.Config, backend store.Backend) engine.Embedder {
	ec := cfg.Embedding
	switch ec.Provider {
	case "none":
		return nil
	case "openai":
		return engine.NewOpenAIEmbedder(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL, ec.Model, ec.Dimensions)
	case "ollama":
		url := cfg.LLM.OllamaURL
		if url == "" {
			url = defaultOllamaURL
		}
		if engine.ProbeOllama(url, ec.Model) {
			logging.Info().Str("model", ec.Model).Msg("embedder: ollama")
			return engine.NewOllamaEmbedder(url, ec.Model, ec.Dimensions)
		}
		logging.Warn().Str("url", url).Msg("embedder: ollama unreachable, using tfidf")
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("embedder: could not load corpus for tfidf")
	}
	docs := make([]string, 0, len(snap.Records))
	for _, r := range snap.Records {
		docs = append(docs, r.Content)
	}
	return engine.NewTFIDFEmbedder(docs, 512)
}

// openEngine loads config, opens the backend and builds the engine. Callers
// must Close the result.
func openEngine(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	backend, where, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		logging.Warn().Err(err).Msg("llm: not configured, extraction disabled")
		client = nil
	}

	eng, err := engine.New(ctx, backend, client, newEmbedder(ctx, cfg, backend), cfg)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return &app{cfg: cfg, backend: backend, where: where, eng: eng}, nil
}
