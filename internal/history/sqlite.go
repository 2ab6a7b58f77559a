package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/redisops/sre-assistant/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_results (
	incident_id TEXT PRIMARY KEY,
	analyzed_at TEXT NOT NULL,
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	origin      TEXT NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_results_analyzed_at
	ON analysis_results (analyzed_at DESC);
`

// SQLiteStore persists analysis results in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path and applies
// the schema. Parent directories are created.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// modernc.org/sqlite serialises writes through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put records a result, rejecting duplicate incident IDs.
func (s *SQLiteStore) Put(ctx context.Context, result models.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal analysis result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (incident_id, analyzed_at, severity, category, origin, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.IncidentID,
		result.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		string(result.Severity),
		string(result.Category),
		string(result.Origin),
		string(payload),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert analysis result: %w", err)
	}
	return nil
}

// Get returns the result recorded under incidentID.
func (s *SQLiteStore) Get(ctx context.Context, incidentID string) (models.AnalysisResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM analysis_results WHERE incident_id = ?`, incidentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisResult{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("query analysis result: %w", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("decode analysis result %s: %w", incidentID, err)
	}
	return result, nil
}

// Recent returns up to limit results, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]models.AnalysisResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM analysis_results
		ORDER BY analyzed_at DESC, incident_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	defer rows.Close()

	var results []models.AnalysisResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var result models.AnalysisResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			continue
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	// The driver wraps SQLITE_CONSTRAINT errors with this text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
