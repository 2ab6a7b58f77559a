package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/redisops/sre-assistant/internal/models"
)

type memoryEntry struct {
	doc    models.KnowledgeDocument
	vector []float64
}

// MemoryStore keeps documents in process memory with exact cosine
// similarity. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Add inserts or replaces a document and its vector.
func (s *MemoryStore) Add(_ context.Context, doc models.KnowledgeDocument, vector []float64) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for document %s", doc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[doc.ID] = memoryEntry{doc: doc, vector: append([]float64(nil), vector...)}
	return nil
}

// Get returns the document stored under id.
func (s *MemoryStore) Get(_ context.Context, id string) (models.KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return models.KnowledgeDocument{}, ErrNotFound
	}
	return entry.doc, nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// List returns documents ordered by ID.
func (s *MemoryStore) List(_ context.Context, category models.Category, limit, offset int) ([]models.KnowledgeDocument, error) {
	s.mu.RLock()
	docs := make([]models.KnowledgeDocument, 0, len(s.entries))
	for _, entry := range s.entries {
		if category != "" && entry.doc.Category != category {
			continue
		}
		docs = append(docs, entry.doc)
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	if offset >= len(docs) {
		return nil, nil
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Query returns the k nearest documents by cosine similarity.
func (s *MemoryStore) Query(_ context.Context, vector []float64, k int, category models.Category) ([]ScoredDocument, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make([]ScoredDocument, 0, len(s.entries))
	for _, entry := range s.entries {
		if category != "" && entry.doc.Category != category {
			continue
		}
		score, ok := cosineSimilarity(vector, entry.vector)
		if !ok {
			continue
		}
		scored = append(scored, ScoredDocument{Document: entry.doc, Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Document.ID < scored[j].Document.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
