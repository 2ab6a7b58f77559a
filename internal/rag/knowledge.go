package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/vectorstore"
)

// ErrInvalidDocument signals a document that fails validation.
var ErrInvalidDocument = errors.New("invalid knowledge document")

// AddDocument embeds and stores a knowledge document. A missing ID gets a
// fresh one and timestamps are stamped; re-adding an existing ID acts as an
// update and refreshes updated_at. The stored document is returned.
func (e *Engine) AddDocument(ctx context.Context, doc models.KnowledgeDocument) (models.KnowledgeDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := doc.Validate(); err != nil {
		return models.KnowledgeDocument{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		if existing, err := e.store.Get(ctx, doc.ID); err == nil {
			doc.CreatedAt = existing.CreatedAt
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	vector, err := e.embedder.Embed(ctx, doc.EmbeddingText())
	if err != nil {
		return models.KnowledgeDocument{}, fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	if err := e.store.Add(ctx, doc, vector); err != nil {
		return models.KnowledgeDocument{}, err
	}

	e.logger.Info("knowledge document stored", "id", doc.ID, "category", doc.Category)
	return doc, nil
}

// GetDocument returns a stored document by ID.
func (e *Engine) GetDocument(ctx context.Context, id string) (models.KnowledgeDocument, error) {
	return e.store.Get(ctx, id)
}

// DeleteDocument removes a stored document.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info("knowledge document deleted", "id", id)
	return nil
}

// ListDocuments pages through stored documents, optionally by category.
func (e *Engine) ListDocuments(ctx context.Context, category models.Category, limit, offset int) ([]models.KnowledgeDocument, error) {
	return e.store.List(ctx, category, limit, offset)
}

// CountDocuments returns the knowledge base size.
func (e *Engine) CountDocuments(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// LoadSeed bulk-loads documents, skipping ones already present so reloading
// a seed file is idempotent. Returns how many documents were added.
func (e *Engine) LoadSeed(ctx context.Context, docs []models.KnowledgeDocument) (int, error) {
	added := 0
	for _, doc := range docs {
		if doc.ID != "" {
			if _, err := e.store.Get(ctx, doc.ID); err == nil {
				continue
			} else if !isNotFound(err) {
				return added, err
			}
		}
		if _, err := e.AddDocument(ctx, doc); err != nil {
			return added, fmt.Errorf("seed document %q: %w", doc.Title, err)
		}
		added++
	}
	return added, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, vectorstore.ErrNotFound)
}
