package history

import (
	"context"
	"sort"
	"sync"

	"github.com/redisops/sre-assistant/internal/models"
)

// MemoryStore keeps analysis results in process memory. Used in tests and
// when no database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]models.AnalysisResult
	order   []string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]models.AnalysisResult)}
}

// Put records a result, rejecting duplicate incident IDs.
func (s *MemoryStore) Put(_ context.Context, result models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.IncidentID]; ok {
		return ErrDuplicate
	}
	s.results[result.IncidentID] = result
	s.order = append(s.order, result.IncidentID)
	return nil
}

// Get returns the result recorded under incidentID.
func (s *MemoryStore) Get(_ context.Context, incidentID string) (models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[incidentID]
	if !ok {
		return models.AnalysisResult{}, ErrNotFound
	}
	return result, nil
}

// Recent returns up to limit results, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]models.AnalysisResult, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.AnalysisResult, 0, len(s.results))
	for _, id := range s.order {
		results = append(results, s.results[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AnalyzedAt.After(results[j].AnalyzedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
