package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the SRE assistant.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Chroma    ChromaConfig    `yaml:"chroma"`
	RAG       RAGConfig       `yaml:"rag"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	History   HistoryConfig   `yaml:"history"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// OpenAIConfig configures the generative and embedding backends.
type OpenAIConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	APIKey         string        `yaml:"apiKey"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embeddingModel"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"maxRetries"`
}

// ChromaConfig configures the vector store backend. An empty endpoint keeps
// knowledge in the in-process store (no persistence across restarts).
type ChromaConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RAGConfig controls retrieval behaviour.
type RAGConfig struct {
	TopK                int     `yaml:"topK"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
}

// MonitorConfig controls the metric monitor defaults.
type MonitorConfig struct {
	RulesPath      string `yaml:"rulesPath"`
	HistorySize    int    `yaml:"historySize"`
	AlertRetention int    `yaml:"alertRetention"`
}

// HistoryConfig controls analysis result persistence.
type HistoryConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// CacheConfig controls Valkey-backed memoisation of embeddings and searches.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL"`
	SearchTTL    time.Duration `yaml:"searchTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// KnowledgeConfig points at seed documents loaded on demand.
type KnowledgeConfig struct {
	SeedPath string `yaml:"seedPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REDIS_SRE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.SimilarityThreshold <= 0 || cfg.RAG.SimilarityThreshold > 1 {
		cfg.RAG.SimilarityThreshold = 0.7
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4-turbo-preview",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
		},
		Chroma: ChromaConfig{
			Collection: "redis_knowledge",
			Timeout:    5 * time.Second,
		},
		RAG: RAGConfig{TopK: 5, SimilarityThreshold: 0.7},
		Monitor: MonitorConfig{
			RulesPath:      "configs/rules/default.yaml",
			HistorySize:    360,
			AlertRetention: 100,
		},
		History: HistoryConfig{SQLitePath: "data/history.db"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			EmbeddingTTL: time.Hour,
			SearchTTL:    2 * time.Minute,
		},
		Logging:   LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
		Knowledge: KnowledgeConfig{SeedPath: "configs/knowledge/troubleshooting.yaml"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_SRE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REDIS_SRE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_EMBEDDING_MODEL"); v != "" {
		cfg.OpenAI.EmbeddingModel = v
	}
	if v := os.Getenv("REDIS_SRE_CHROMA_ENDPOINT"); v != "" {
		cfg.Chroma.Endpoint = v
	}
	if v := os.Getenv("REDIS_SRE_CHROMA_COLLECTION"); v != "" {
		cfg.Chroma.Collection = v
	}
	if v := os.Getenv("REDIS_SRE_RAG_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.RAG.TopK = k
		}
	}
	if v := os.Getenv("REDIS_SRE_RAG_SIMILARITY_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RAG.SimilarityThreshold = t
		}
	}
	if v := os.Getenv("REDIS_SRE_RULES_PATH"); v != "" {
		cfg.Monitor.RulesPath = v
	}
	if v := os.Getenv("REDIS_SRE_HISTORY_SQLITE"); v != "" {
		cfg.History.SQLitePath = v
	}
	if v := os.Getenv("REDIS_SRE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("REDIS_SRE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REDIS_SRE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("REDIS_SRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REDIS_SRE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("REDIS_SRE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("REDIS_SRE_KNOWLEDGE_SEED"); v != "" {
		cfg.Knowledge.SeedPath = v
	}
}
