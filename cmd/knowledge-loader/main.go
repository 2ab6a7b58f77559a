// knowledge-loader bulk-imports a troubleshooting seed file into a running
// assistant instance.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redisops/sre-assistant/internal/knowledge"
	"github.com/redisops/sre-assistant/internal/models"
)

func main() {
	var (
		file    string
		server  string
		timeout time.Duration
	)
	flag.StringVar(&file, "file", "configs/knowledge/troubleshooting.yaml", "Seed file to import")
	flag.StringVar(&server, "server", "http://localhost:8000", "Assistant base URL")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Import timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	docs, err := knowledge.LoadSeedFile(file)
	if err != nil {
		logger.Error("failed to read seed file", slog.String("file", file), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed file loaded", slog.String("file", file), slog.Int("documents", len(docs)))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	added, err := bulkImport(ctx, server, docs)
	if err != nil {
		logger.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("import complete", slog.Int("submitted", len(docs)), slog.Int("added", added))
}

func bulkImport(ctx context.Context, server string, docs []models.KnowledgeDocument) (int, error) {
	body, err := json.Marshal(map[string]any{"documents": docs})
	if err != nil {
		return 0, err
	}

	url := strings.TrimRight(server, "/") + "/api/v1/knowledge/bulk-import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server returned %s", resp.Status)
	}

	var result struct {
		Added int `json:"added"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Added, nil
}
