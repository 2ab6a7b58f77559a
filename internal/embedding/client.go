// Package embedding wraps the vector-embedding backend behind a small HTTP
// client. The backend is treated as unreliable: calls carry bounded timeouts
// and transient failures are retried before ErrUnavailable surfaces.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redisops/sre-assistant/internal/cache"
)

// ErrUnavailable indicates the embedding backend could not produce a vector
// after the retry budget was exhausted, or returned malformed output.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	cache      cache.Provider
	cacheTTL   time.Duration
}

// NewClient constructs an embedding client. cacheProvider may be nil.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int, cacheProvider cache.Provider, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		cache:      cacheProvider,
		cacheTTL:   cacheTTL,
	}
}

// Embed converts one text into its vector representation.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input text", ErrUnavailable)
	}

	cacheKey := c.cacheKey(text)
	if c.cacheTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []float64
			if err := json.Unmarshal(data, &cached); err == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	vectors, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrUnavailable, len(vectors))
	}

	if c.cacheTTL > 0 {
		if payload, err := json.Marshal(vectors[0]); err == nil {
			_ = c.cache.Set(ctx, cacheKey, payload, c.cacheTTL)
		}
	}
	return vectors[0], nil
}

// EmbedBatch converts several texts in a single round trip.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := c.request(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrUnavailable, len(texts), len(vectors))
	}
	return vectors, nil
}

func (c *Client) request(ctx context.Context, input []string) ([][]float64, error) {
	payload := map[string]any{
		"model": c.model,
		"input": input,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		vectors, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (vectors [][]float64, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, isTransportError(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			fmt.Errorf("embeddings endpoint returned %s", resp.Status)
	}

	var response struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, false, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, false, fmt.Errorf("embedding response contained no vectors")
	}

	out := make([][]float64, 0, len(response.Data))
	dim := len(response.Data[0].Embedding)
	for _, item := range response.Data {
		if len(item.Embedding) == 0 || len(item.Embedding) != dim {
			return nil, false, fmt.Errorf("embedding response vector length mismatch")
		}
		out = append(out, item.Embedding)
	}
	return out, false, nil
}

func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + c.model + ":" + hex.EncodeToString(sum[:])
}

func backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
