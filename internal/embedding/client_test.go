package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redisops/sre-assistant/internal/cache"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *mapCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Close() error { return nil }

func vectorServer(t *testing.T, failures int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	var failed atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failed.Add(1) <= int64(failures) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Embedding: []float64{0.1, 0.2, 0.3}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := vectorServer(t, 2, &calls)
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 5*time.Second, 3, nil, 0)
	vector, err := c.Embed(context.Background(), "redis memory pressure")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("vector = %v", vector)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("backend calls = %d, want 3", got)
	}
}

func TestEmbedGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int64
	srv := vectorServer(t, 100, &calls)
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 5*time.Second, 2, nil, 0)
	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("backend calls = %d, want 2", got)
	}
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 5*time.Second, 3, nil, 0)
	if _, err := c.Embed(context.Background(), "text"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	c := NewClient("http://unused.invalid", "key", "model", time.Second, 1, nil, 0)
	if _, err := c.Embed(context.Background(), "   "); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEmbedCachesVectors(t *testing.T) {
	var calls atomic.Int64
	srv := vectorServer(t, 0, &calls)
	defer srv.Close()

	store := newMapCache()
	c := NewClient(srv.URL, "key", "model", 5*time.Second, 1, store, time.Minute)

	first, err := c.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	second, err := c.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("backend calls = %d, want 1 (second served from cache)", got)
	}
	if len(first) != len(second) {
		t.Fatalf("cached vector differs: %v vs %v", first, second)
	}
	if store.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", store.sets)
	}

	// A different text misses the cache.
	if _, err := c.Embed(context.Background(), "other text"); err != nil {
		t.Fatalf("third embed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("backend calls = %d, want 2", got)
	}
}

func TestEmbedBatchLengthMatchesInput(t *testing.T) {
	var calls atomic.Int64
	srv := vectorServer(t, 0, &calls)
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 5*time.Second, 1, nil, 0)
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("vectors = %d, want 3", len(vectors))
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}
}
