// Package rag turns incident inputs into knowledge-base search results. The
// query builder is deterministic so identical incidents retrieve identical
// context, and memoised searches stay valid.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redisops/sre-assistant/internal/cache"
	"github.com/redisops/sre-assistant/internal/embedding"
	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/vectorstore"
)

// Options controls retrieval defaults.
type Options struct {
	TopK                int
	SimilarityThreshold float64
	CacheTTL            time.Duration
}

// Engine retrieves knowledge documents relevant to an incident by embedding
// a query derived from the incident and ranking stored documents by cosine
// similarity.
type Engine struct {
	store    vectorstore.Store
	embedder *embedding.Client
	cache    cache.Provider
	logger   *slog.Logger
	opts     Options
}

// NewEngine constructs a retrieval engine. cacheProvider may be a
// NoopProvider when memoisation is disabled.
func NewEngine(store vectorstore.Store, embedder *embedding.Client, cacheProvider cache.Provider, logger *slog.Logger, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cache:    cacheProvider,
		logger:   logger,
		opts:     opts,
	}
}

// BuildQuery renders the search text for an incident. The parts are joined
// in a fixed order: description first, then error logs, then keywords
// derived from metric anomalies, so identical incidents always produce the
// same query.
func BuildQuery(in models.IncidentInput) string {
	var parts []string
	if desc := strings.TrimSpace(in.Description); desc != "" {
		parts = append(parts, desc)
	}
	// Only the first few log lines feed the query; long logs drown the
	// metric keywords otherwise.
	logLines := 0
	for _, line := range in.ErrorLogs {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
			if logLines++; logLines == 3 {
				break
			}
		}
	}
	parts = append(parts, metricKeywords(in.Metrics)...)
	if len(parts) == 0 {
		return "redis error troubleshooting"
	}
	return strings.Join(parts, " ")
}

// metricKeywords maps metric anomalies to search keywords in a fixed
// priority order. Every matching anomaly contributes, so compound failures
// retrieve documents across all affected areas.
func metricKeywords(m *models.RedisMetrics) []string {
	if m == nil {
		return nil
	}
	var kw []string
	if m.RejectedConnections > 0 {
		kw = append(kw, "connection rejected max clients")
	}
	if m.Maxmemory > 0 && m.MemoryUsagePercent() >= 90 {
		kw = append(kw, "memory full OOM maxmemory")
	}
	if m.MasterLinkStatus == "down" {
		kw = append(kw, "replication master link down")
	}
	if m.ClusterState == "fail" {
		kw = append(kw, "cluster fail node")
	}
	return kw
}

// Search retrieves the documents most similar to the incident, keeping only
// those at or above the similarity threshold and at most TopK of them.
func (e *Engine) Search(ctx context.Context, in models.IncidentInput) ([]vectorstore.ScoredDocument, error) {
	return e.SearchText(ctx, BuildQuery(in), "")
}

// SearchText retrieves documents for an arbitrary query string, optionally
// restricted to a category.
func (e *Engine) SearchText(ctx context.Context, query string, category models.Category) ([]vectorstore.ScoredDocument, error) {
	key := e.cacheKey(query, category)
	if e.opts.CacheTTL > 0 {
		if cached, err := e.cache.Get(ctx, key); err == nil {
			var results []vectorstore.ScoredDocument
			if err := json.Unmarshal(cached, &results); err == nil {
				return results, nil
			}
		}
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so threshold filtering still yields up to TopK hits.
	scored, err := e.store.Query(ctx, vector, e.opts.TopK*3, category)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	results := make([]vectorstore.ScoredDocument, 0, e.opts.TopK)
	for _, hit := range scored {
		if hit.Score < e.opts.SimilarityThreshold {
			continue
		}
		results = append(results, hit)
		if len(results) == e.opts.TopK {
			break
		}
	}

	e.logger.Debug("knowledge search",
		"query_len", len(query),
		"candidates", len(scored),
		"results", len(results))

	if e.opts.CacheTTL > 0 {
		if data, err := json.Marshal(results); err == nil {
			if err := e.cache.Set(ctx, key, data, e.opts.CacheTTL); err != nil {
				e.logger.Debug("search cache write failed", "error", err)
			}
		}
	}
	return results, nil
}

func (e *Engine) cacheKey(query string, category models.Category) string {
	sum := sha256.Sum256([]byte(string(category) + "\x00" + query))
	return "search:" + hex.EncodeToString(sum[:])
}
