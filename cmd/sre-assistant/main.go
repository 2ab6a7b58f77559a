package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redisops/sre-assistant/internal/analyzer"
	"github.com/redisops/sre-assistant/internal/api"
	"github.com/redisops/sre-assistant/internal/cache"
	"github.com/redisops/sre-assistant/internal/config"
	"github.com/redisops/sre-assistant/internal/embedding"
	"github.com/redisops/sre-assistant/internal/faultinject"
	"github.com/redisops/sre-assistant/internal/history"
	"github.com/redisops/sre-assistant/internal/knowledge"
	"github.com/redisops/sre-assistant/internal/llm"
	"github.com/redisops/sre-assistant/internal/metrics"
	"github.com/redisops/sre-assistant/internal/monitor"
	"github.com/redisops/sre-assistant/internal/rag"
	"github.com/redisops/sre-assistant/internal/redisconn"
	"github.com/redisops/sre-assistant/internal/utils"
	"github.com/redisops/sre-assistant/internal/vectorstore"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.LogFileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	logger.Info("starting sre-assistant", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(redisconn.Config{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	embedder := embedding.NewClient(
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.APIKey,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.Timeout,
		cfg.OpenAI.MaxRetries,
		cacheProvider,
		cfg.Cache.EmbeddingTTL,
	)

	var store vectorstore.Store
	if cfg.Chroma.Endpoint != "" {
		store = vectorstore.NewChromaStore(cfg.Chroma.Endpoint, cfg.Chroma.Collection, cfg.Chroma.Timeout)
	} else {
		logger.Warn("no vector store endpoint configured, knowledge is kept in memory only")
		store = vectorstore.NewMemoryStore()
	}

	retriever := rag.NewEngine(store, embedder, cacheProvider, logger, rag.Options{
		TopK:                cfg.RAG.TopK,
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
		CacheTTL:            cfg.Cache.SearchTTL,
	})

	if cfg.Knowledge.SeedPath != "" {
		seedCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		docs, err := knowledge.LoadSeedFile(cfg.Knowledge.SeedPath)
		if err != nil {
			logger.Warn("seed file unavailable", slog.String("path", cfg.Knowledge.SeedPath), slog.Any("error", err))
		} else if added, err := retriever.LoadSeed(seedCtx, docs); err != nil {
			logger.Warn("seed load incomplete", slog.Any("error", err))
		} else if added > 0 {
			logger.Info("knowledge seeded", slog.Int("added", added))
		}
		cancel()
	}
	if count, err := retriever.CountDocuments(context.Background()); err == nil {
		metrics.SetKnowledgeDocuments(count)
	}

	var llmClient *llm.Client
	if cfg.OpenAI.APIKey != "" {
		llmClient = llm.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model,
			cfg.OpenAI.Timeout, cfg.OpenAI.MaxRetries)
	} else {
		logger.Warn("no generative backend configured, analyses will be heuristic-only")
	}

	var historyStore history.Store
	if cfg.History.SQLitePath != "" {
		sqliteStore, err := history.OpenSQLite(cfg.History.SQLitePath)
		if err != nil {
			logger.Error("failed to open history database", slog.Any("error", err))
			os.Exit(1)
		}
		historyStore = sqliteStore
	} else {
		historyStore = history.NewMemoryStore()
	}
	defer historyStore.Close()

	incidentAnalyzer := analyzer.New(retriever, llmClient, historyStore, logger)

	rules, err := monitor.LoadRules(cfg.Monitor.RulesPath)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	mon := monitor.New(rules, logger, monitor.Options{
		HistorySize:    cfg.Monitor.HistorySize,
		AlertRetention: cfg.Monitor.AlertRetention,
	})
	defer mon.Disconnect()

	injector := faultinject.New(mon, logger)

	server := api.NewServer(cfg.Server, api.Deps{
		Analyzer:  incidentAnalyzer,
		Retriever: retriever,
		Monitor:   mon,
		Injector:  injector,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sre-assistant stopped")
}
