// Package history persists analysis results so past incidents remain
// inspectable after the process restarts.
package history

import (
	"context"
	"errors"

	"github.com/redisops/sre-assistant/internal/models"
)

var (
	// ErrNotFound signals that no result exists under the requested incident ID.
	ErrNotFound = errors.New("analysis result not found")
	// ErrDuplicate signals an attempt to store a second result under an
	// existing incident ID. Results are immutable once recorded.
	ErrDuplicate = errors.New("analysis result already recorded")
)

// Store records analysis results keyed by incident ID.
type Store interface {
	// Put records a result. Recording an incident ID twice returns ErrDuplicate.
	Put(ctx context.Context, result models.AnalysisResult) error
	// Get returns the result recorded under incidentID.
	Get(ctx context.Context, incidentID string) (models.AnalysisResult, error)
	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, limit int) ([]models.AnalysisResult, error)
	// Close releases backing resources.
	Close() error
}
