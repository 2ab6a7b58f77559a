// Package vectorstore persists knowledge documents together with their
// embedding vectors and answers nearest-neighbour queries. Two
// implementations exist: a Chroma-backed store for durable deployments and
// an in-process store used in tests and store-less local mode.
package vectorstore

import (
	"context"
	"errors"

	"github.com/redisops/sre-assistant/internal/models"
)

// ErrNotFound signals that no document exists under the requested ID.
var ErrNotFound = errors.New("document not found")

// ScoredDocument pairs a document with its similarity to a query vector.
type ScoredDocument struct {
	Document models.KnowledgeDocument `json:"document"`
	Score    float64                  `json:"score"`
}

// Store is the persistence contract for the knowledge base. Callers receive
// snapshots; mutating a returned document does not affect the stored copy.
type Store interface {
	// Add inserts or replaces a document and its vector.
	Add(ctx context.Context, doc models.KnowledgeDocument, vector []float64) error
	// Get returns the document stored under id.
	Get(ctx context.Context, id string) (models.KnowledgeDocument, error)
	// Delete removes a document. Deleting an absent id returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns documents ordered by ID, optionally filtered by category.
	List(ctx context.Context, category models.Category, limit, offset int) ([]models.KnowledgeDocument, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
	// Query returns up to k documents nearest to vector, ordered by
	// descending similarity with ties broken by ascending document ID.
	Query(ctx context.Context, vector []float64, k int, category models.Category) ([]ScoredDocument, error)
}
