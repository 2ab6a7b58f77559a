package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redisops/sre-assistant/internal/models"
)

// chromaFake is a minimal in-memory stand-in for the ChromaDB REST API:
// one collection, upsert/get/delete/query/count.
type chromaFake struct {
	mu      sync.Mutex
	created int

	ids       []string
	metadatas []map[string]any
	vectors   [][]float64
}

func (f *chromaFake) indexOf(id string) int {
	for i, existing := range f.ids {
		if existing == id {
			return i
		}
	}
	return -1
}

func (f *chromaFake) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.created++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
	})
	mux.HandleFunc("/api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs        []string         `json:"ids"`
			Embeddings [][]float64      `json:"embeddings"`
			Metadatas  []map[string]any `json:"metadatas"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, id := range req.IDs {
			if at := f.indexOf(id); at >= 0 {
				f.metadatas[at] = req.Metadatas[i]
				f.vectors[at] = req.Embeddings[i]
				continue
			}
			f.ids = append(f.ids, id)
			f.metadatas = append(f.metadatas, req.Metadatas[i])
			f.vectors = append(f.vectors, req.Embeddings[i])
		}
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/api/v1/collections/col-1/get", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		var ids []string
		var metas []map[string]any
		if len(req.IDs) == 0 {
			ids = append(ids, f.ids...)
			metas = append(metas, f.metadatas...)
		} else {
			for _, id := range req.IDs {
				if at := f.indexOf(id); at >= 0 {
					ids = append(ids, id)
					metas = append(metas, f.metadatas[at])
				}
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"ids": ids, "metadatas": metas})
	})
	mux.HandleFunc("/api/v1/collections/col-1/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, id := range req.IDs {
			if at := f.indexOf(id); at >= 0 {
				f.ids = append(f.ids[:at], f.ids[at+1:]...)
				f.metadatas = append(f.metadatas[:at], f.metadatas[at+1:]...)
				f.vectors = append(f.vectors[:at], f.vectors[at+1:]...)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/api/v1/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(len(f.ids))
	})
	mux.HandleFunc("/api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QueryEmbeddings [][]float64 `json:"query_embeddings"`
			NResults        int         `json:"n_results"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		// Cosine distance against the single query vector.
		query := req.QueryEmbeddings[0]
		ids := make([]string, 0, len(f.ids))
		metas := make([]map[string]any, 0, len(f.ids))
		distances := make([]float64, 0, len(f.ids))
		for i, id := range f.ids {
			ids = append(ids, id)
			metas = append(metas, f.metadatas[i])
			sim, _ := cosineSimilarity(query, f.vectors[i])
			distances = append(distances, 1-sim)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{ids},
			"metadatas": [][]map[string]any{metas},
			"distances": [][]float64{distances},
		})
	})
	return mux
}

func chromaTestStore(t *testing.T) (*ChromaStore, *chromaFake) {
	t.Helper()
	fake := &chromaFake{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewChromaStore(srv.URL, "redis_knowledge", 5*time.Second), fake
}

func chromaDoc(id string, category models.Category) models.KnowledgeDocument {
	return models.KnowledgeDocument{
		ID:       id,
		Category: category,
		Severity: models.SeverityHigh,
		Title:    "doc " + id,
		Symptoms: []string{"symptom"},
	}
}

func TestChromaAddGetRoundTrip(t *testing.T) {
	store, _ := chromaTestStore(t)
	ctx := context.Background()

	doc := chromaDoc("kb-1", models.CategoryMemory)
	doc.Solutions = []string{"조치 1"}
	if err := store.Add(ctx, doc, []float64{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.Get(ctx, "kb-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "doc kb-1" || got.Category != models.CategoryMemory {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if len(got.Solutions) != 1 || got.Solutions[0] != "조치 1" {
		t.Fatalf("full document not recovered from metadata: %+v", got)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestChromaCollectionCreatedOnce(t *testing.T) {
	store, fake := chromaTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Add(ctx, chromaDoc("kb-1", models.CategoryMemory), []float64{1, 0}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	fake.mu.Lock()
	created := fake.created
	fake.mu.Unlock()
	if created != 1 {
		t.Fatalf("collection created %d times", created)
	}
}

func TestChromaGetMissing(t *testing.T) {
	store, _ := chromaTestStore(t)
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChromaDelete(t *testing.T) {
	store, _ := chromaTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, chromaDoc("kb-1", models.CategoryMemory), []float64{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Delete(ctx, "kb-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "kb-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v, want ErrNotFound", err)
	}
}

func TestChromaQueryScoresAndOrders(t *testing.T) {
	store, _ := chromaTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, chromaDoc("kb-near", models.CategoryMemory), []float64{1, 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, chromaDoc("kb-far", models.CategoryMemory), []float64{0, 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := store.Query(ctx, []float64{1, 0}, 5, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Document.ID != "kb-near" {
		t.Fatalf("nearest = %s", results[0].Document.ID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("scores not descending: %v then %v", results[0].Score, results[1].Score)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("identical vector score = %v", results[0].Score)
	}
}

func TestChromaRequiresEndpoint(t *testing.T) {
	store := NewChromaStore("", "c", time.Second)
	if _, err := store.Count(context.Background()); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestDecodeMetadataFallback(t *testing.T) {
	doc, err := decodeMetadataDocument("kb-legacy", map[string]any{
		"title":    "legacy entry",
		"category": "memory",
		"severity": "high",
		"tags":     "redis,oom",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Title != "legacy entry" || doc.Category != models.CategoryMemory {
		t.Fatalf("doc = %+v", doc)
	}
	if len(doc.Tags) != 2 || !strings.Contains(doc.Tags[1], "oom") {
		t.Fatalf("tags = %v", doc.Tags)
	}

	if _, err := decodeMetadataDocument("kb-empty", map[string]any{}); err == nil {
		t.Fatalf("expected error for unusable metadata")
	}
}
