package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redisops/sre-assistant/internal/models"
)

// ChromaStore talks to a ChromaDB server over its REST API. The collection
// is created on first use with cosine space so query distances convert to
// similarity as 1 - distance. The full document is carried in metadata so
// the store round-trips without a second lookup.
type ChromaStore struct {
	endpoint   string
	collection string
	httpClient *http.Client

	mu           sync.Mutex
	collectionID string
}

// NewChromaStore constructs a store client for the given server endpoint
// and collection name.
func NewChromaStore(endpoint, collection string, timeout time.Duration) *ChromaStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if collection == "" {
		collection = "redis_knowledge"
	}
	return &ChromaStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Add inserts or replaces a document and its vector.
func (s *ChromaStore) Add(ctx context.Context, doc models.KnowledgeDocument, vector []float64) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for document %s", doc.ID)
	}

	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return err
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}

	payload := map[string]any{
		"ids":        []string{doc.ID},
		"embeddings": [][]float64{vector},
		"documents":  []string{doc.EmbeddingText()},
		"metadatas": []map[string]any{{
			"title":    doc.Title,
			"category": string(doc.Category),
			"severity": string(doc.Severity),
			"tags":     strings.Join(doc.Tags, ","),
			"doc":      string(docJSON),
		}},
	}
	return s.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/upsert", collectionID), payload, nil)
}

// Get returns the document stored under id.
func (s *ChromaStore) Get(ctx context.Context, id string) (models.KnowledgeDocument, error) {
	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return models.KnowledgeDocument{}, err
	}

	payload := map[string]any{
		"ids":     []string{id},
		"include": []string{"metadatas"},
	}
	var response struct {
		IDs       []string         `json:"ids"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/get", collectionID), payload, &response); err != nil {
		return models.KnowledgeDocument{}, err
	}
	if len(response.IDs) == 0 {
		return models.KnowledgeDocument{}, ErrNotFound
	}
	return decodeMetadataDocument(response.IDs[0], metadataAt(response.Metadatas, 0))
}

// Delete removes a document.
func (s *ChromaStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{"ids": []string{id}}
	return s.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/delete", collectionID), payload, nil)
}

// List returns documents ordered by ID.
func (s *ChromaStore) List(ctx context.Context, category models.Category, limit, offset int) ([]models.KnowledgeDocument, error) {
	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"include": []string{"metadatas"},
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	if offset > 0 {
		payload["offset"] = offset
	}
	if category != "" {
		payload["where"] = map[string]any{"category": string(category)}
	}

	var response struct {
		IDs       []string         `json:"ids"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/get", collectionID), payload, &response); err != nil {
		return nil, err
	}

	docs := make([]models.KnowledgeDocument, 0, len(response.IDs))
	for i, id := range response.IDs {
		doc, err := decodeMetadataDocument(id, metadataAt(response.Metadatas, i))
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Count returns the number of stored documents.
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/collections/%s/count", s.endpoint, collectionID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("chroma count returned %s", resp.Status)
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return count, nil
}

// Query returns up to k nearest documents. Threshold filtering belongs
// to the retrieval engine.
func (s *ChromaStore) Query(ctx context.Context, vector []float64, k int, category models.Category) ([]ScoredDocument, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if k <= 0 {
		return nil, nil
	}

	collectionID, err := s.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query_embeddings": [][]float64{vector},
		"n_results":        k,
		"include":          []string{"metadatas", "distances"},
	}
	if category != "" {
		payload["where"] = map[string]any{"category": string(category)}
	}

	var response struct {
		IDs       [][]string         `json:"ids"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("/api/v1/collections/%s/query", collectionID), payload, &response); err != nil {
		return nil, err
	}
	if len(response.IDs) == 0 {
		return nil, nil
	}

	ids := response.IDs[0]
	results := make([]ScoredDocument, 0, len(ids))
	for i, id := range ids {
		var meta map[string]any
		if len(response.Metadatas) > 0 {
			meta = metadataAt(response.Metadatas[0], i)
		}
		doc, err := decodeMetadataDocument(id, meta)
		if err != nil {
			continue
		}
		score := 0.0
		if len(response.Distances) > 0 && i < len(response.Distances[0]) {
			// Cosine space: distance in [0,2], similarity = 1 - distance.
			score = 1 - response.Distances[0][i]
		}
		results = append(results, ScoredDocument{Document: doc, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	return results, nil
}

func (s *ChromaStore) ensureCollection(ctx context.Context) (string, error) {
	if s.endpoint == "" {
		return "", fmt.Errorf("chroma endpoint not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}

	payload := map[string]any{
		"name":          s.collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	var response struct {
		ID string `json:"id"`
	}
	if err := s.postJSON(ctx, "/api/v1/collections", payload, &response); err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", s.collection, err)
	}
	if response.ID == "" {
		return "", fmt.Errorf("chroma returned empty collection id")
	}
	s.collectionID = response.ID
	return s.collectionID, nil
}

func (s *ChromaStore) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chroma %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func metadataAt(metadatas []map[string]any, i int) map[string]any {
	if i < len(metadatas) {
		return metadatas[i]
	}
	return nil
}

func decodeMetadataDocument(id string, meta map[string]any) (models.KnowledgeDocument, error) {
	if raw, ok := meta["doc"].(string); ok && raw != "" {
		var doc models.KnowledgeDocument
		if err := json.Unmarshal([]byte(raw), &doc); err == nil {
			doc.ID = id
			return doc, nil
		}
	}
	// Older entries carried only flat metadata fields.
	doc := models.KnowledgeDocument{ID: id}
	if title, ok := meta["title"].(string); ok {
		doc.Title = title
	}
	if category, ok := meta["category"].(string); ok {
		doc.Category = models.ParseCategory(category)
	}
	if severity, ok := meta["severity"].(string); ok {
		doc.Severity = models.ParseSeverity(severity)
	}
	if tags, ok := meta["tags"].(string); ok && tags != "" {
		doc.Tags = strings.Split(tags, ",")
	}
	if doc.Title == "" {
		return doc, fmt.Errorf("document %s has no usable metadata", id)
	}
	return doc, nil
}
