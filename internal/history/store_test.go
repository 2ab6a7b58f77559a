package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/redisops/sre-assistant/internal/models"
)

func sampleResult(id string, at time.Time) models.AnalysisResult {
	return models.AnalysisResult{
		IncidentID:       id,
		Severity:         models.SeverityHigh,
		Category:         models.CategoryMemory,
		Summary:          "memory pressure",
		ImmediateActions: []string{"check INFO memory"},
		ConfidenceScore:  0.8,
		Origin:           models.OriginGenerated,
		AnalyzedAt:       at,
	}
}

// Both implementations must satisfy the same contract.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v, want ErrNotFound", err)
	}

	for i := 0; i < 5; i++ {
		r := sampleResult(fmt.Sprintf("inc-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.Put(ctx, r); err != nil {
			t.Fatalf("put %s: %v", r.IncidentID, err)
		}
	}

	if err := store.Put(ctx, sampleResult("inc-2", base)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate put: %v, want ErrDuplicate", err)
	}

	got, err := store.Get(ctx, "inc-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != "memory pressure" || got.Origin != models.OriginGenerated {
		t.Fatalf("round-trip lost fields: %+v", got)
	}
	if !got.AnalyzedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("analyzed_at = %v", got.AnalyzedAt)
	}

	recent, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent returned %d results, want 3", len(recent))
	}
	for i, want := range []string{"inc-4", "inc-3", "inc-2"} {
		if recent[i].IncidentID != want {
			t.Fatalf("recent[%d] = %s, want %s", i, recent[i].IncidentID, want)
		}
	}

	all, err := store.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("recent all returned %d results, want 5", len(all))
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "history", "analysis.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.db")
	ctx := context.Background()

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, sampleResult("inc-persist", time.Now().UTC())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "inc-persist")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.IncidentID != "inc-persist" {
		t.Fatalf("got %+v", got)
	}
}
