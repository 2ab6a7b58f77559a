package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/redisops/sre-assistant/internal/models"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
documents:
  - id: kb-memory-oom
    category: memory
    severity: critical
    title: "Redis OOM 장애 대응"
    symptoms:
      - "OOM command not allowed"
    solutions:
      - "maxmemory 상향 또는 eviction 정책 조정"
  - id: kb-conn-maxclients
    category: connection
    title: "클라이언트 연결 한도 초과"
`)
	docs, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %d", len(docs))
	}
	if docs[0].ID != "kb-memory-oom" || docs[0].Category != models.CategoryMemory {
		t.Fatalf("first doc = %+v", docs[0])
	}
	// Severity defaults when the seed omits it.
	if docs[1].Severity != models.SeverityMedium {
		t.Fatalf("second doc severity = %q", docs[1].Severity)
	}
}

func TestLoadSeedFileRejectsInvalidDocument(t *testing.T) {
	path := writeSeed(t, `
documents:
  - id: kb-broken
    category: memory
`)
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatalf("expected validation error for missing title")
	}
}

func TestLoadSeedFileMissing(t *testing.T) {
	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadSeedFileMalformed(t *testing.T) {
	path := writeSeed(t, "documents: {broken")
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestShippedSeedPackParses(t *testing.T) {
	docs, err := LoadSeedFile(filepath.Join("..", "..", "configs", "knowledge", "troubleshooting.yaml"))
	if err != nil {
		t.Fatalf("load shipped pack: %v", err)
	}
	if len(docs) == 0 {
		t.Fatalf("shipped pack is empty")
	}
	ids := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if ids[doc.ID] {
			t.Fatalf("duplicate id %s", doc.ID)
		}
		ids[doc.ID] = true
	}
	if !ids["kb-memory-oom"] {
		t.Fatalf("memory runbook missing from shipped pack")
	}
}
