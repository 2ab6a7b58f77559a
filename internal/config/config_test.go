package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.RAG.TopK != 5 || cfg.RAG.SimilarityThreshold != 0.7 {
		t.Fatalf("rag defaults = %+v", cfg.RAG)
	}
	if cfg.Monitor.HistorySize != 360 {
		t.Fatalf("history size = %d", cfg.Monitor.HistorySize)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache enabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  gracefulTimeout: 5s
openai:
  model: local-model
  baseURL: http://localhost:11434/v1
chroma:
  endpoint: http://localhost:8001
rag:
  topK: 3
  similarityThreshold: 0.5
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Fatalf("graceful timeout = %v", cfg.Server.GracefulTimeout)
	}
	if cfg.OpenAI.Model != "local-model" {
		t.Fatalf("model = %q", cfg.OpenAI.Model)
	}
	if cfg.Chroma.Endpoint != "http://localhost:8001" {
		t.Fatalf("chroma endpoint = %q", cfg.Chroma.Endpoint)
	}
	if cfg.RAG.TopK != 3 || cfg.RAG.SimilarityThreshold != 0.5 {
		t.Fatalf("rag = %+v", cfg.RAG)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	// Unset fields keep their defaults.
	if cfg.OpenAI.EmbeddingModel != "text-embedding-3-small" {
		t.Fatalf("embedding model = %q", cfg.OpenAI.EmbeddingModel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
`)
	t.Setenv("REDIS_SRE_SERVER_ADDRESS", ":9999")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REDIS_SRE_RAG_TOP_K", "2")
	t.Setenv("REDIS_SRE_CACHE_ENABLED", "true")
	t.Setenv("REDIS_SRE_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("env override lost: %q", cfg.Server.Address)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Fatalf("api key = %q", cfg.OpenAI.APIKey)
	}
	if cfg.RAG.TopK != 2 {
		t.Fatalf("top k = %d", cfg.RAG.TopK)
	}
	if !cfg.Cache.Enabled || !cfg.Logging.JSON {
		t.Fatalf("bool overrides lost: %+v %+v", cfg.Cache.Enabled, cfg.Logging.JSON)
	}
}

func TestInvalidThresholdFallsBack(t *testing.T) {
	path := writeConfig(t, `
rag:
  similarityThreshold: 1.5
  topK: -2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RAG.SimilarityThreshold != 0.7 || cfg.RAG.TopK != 5 {
		t.Fatalf("out-of-range values not reset: %+v", cfg.RAG)
	}
}
