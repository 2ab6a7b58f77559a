package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/redisops/sre-assistant/internal/analyzer"
	"github.com/redisops/sre-assistant/internal/embedding"
	"github.com/redisops/sre-assistant/internal/history"
	"github.com/redisops/sre-assistant/internal/llm"
	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/monitor"
	"github.com/redisops/sre-assistant/internal/rag"
	"github.com/redisops/sre-assistant/internal/redisconn"
	"github.com/redisops/sre-assistant/internal/vectorstore"
)

type handlers struct {
	deps Deps
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.deps.Logger.Warn("response encoding failed", "error", err)
	}
}

// writeError maps component errors onto HTTP status codes.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, analyzer.ErrInvalidIncidentInput), errors.Is(err, rag.ErrInvalidDocument):
		status = http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrNotFound), errors.Is(err, history.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrNotConnected), errors.Is(err, monitor.ErrAlreadyMonitoring),
		errors.Is(err, history.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, redisconn.ErrConnection), errors.Is(err, analyzer.ErrAnalysisFailed),
		errors.Is(err, embedding.ErrUnavailable), errors.Is(err, llm.ErrBackend):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.deps.Logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- analysis ---

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var in models.IncidentInput
	if !h.decode(w, r, &in) {
		return
	}
	result, err := h.deps.Analyzer.Analyze(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) analysisResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.deps.Analyzer.Result(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) analysisHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	results, err := h.deps.Analyzer.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []models.AnalysisResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(results),
		"history": results,
	})
}

// --- search ---

type searchRequest struct {
	Query    string          `json:"query"`
	TopK     int             `json:"top_k"`
	Category models.Category `json:"category"`
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runSearch(w, r, req)
}

func (h *handlers) searchSimilar(w http.ResponseWriter, r *http.Request) {
	req := searchRequest{
		Query:    r.URL.Query().Get("query"),
		TopK:     queryInt(r, "top_k", 0),
		Category: models.Category(r.URL.Query().Get("category")),
	}
	h.runSearch(w, r, req)
}

func (h *handlers) runSearch(w http.ResponseWriter, r *http.Request, req searchRequest) {
	if req.Query == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	results, err := h.deps.Retriever.SearchText(r.Context(), req.Query, req.Category)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}
	if results == nil {
		results = []vectorstore.ScoredDocument{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(results),
		"results": results,
	})
}

// --- knowledge ---

func (h *handlers) addKnowledge(w http.ResponseWriter, r *http.Request) {
	var doc models.KnowledgeDocument
	if !h.decode(w, r, &doc) {
		return
	}
	stored, err := h.deps.Retriever.AddDocument(r.Context(), doc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, stored)
}

func (h *handlers) getKnowledge(w http.ResponseWriter, r *http.Request) {
	doc, err := h.deps.Retriever.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *handlers) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Retriever.DeleteDocument(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handlers) listKnowledge(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	docs, err := h.deps.Retriever.ListDocuments(r.Context(), category, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []models.KnowledgeDocument{}
	}
	total, err := h.deps.Retriever.CountDocuments(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"documents": docs,
	})
}

type bulkImportRequest struct {
	Documents []models.KnowledgeDocument `json:"documents"`
}

func (h *handlers) bulkImport(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if !h.decode(w, r, &req) {
		return
	}
	added, err := h.deps.Retriever.LoadSeed(r.Context(), req.Documents)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"submitted": len(req.Documents),
		"added":     added,
	})
}

// --- monitor ---

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (h *handlers) monitorConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Host == "" {
		req.Host = "localhost"
	}
	if req.Port == 0 {
		req.Port = 6379
	}
	cfg := redisconn.Config{
		Addr:     req.Host + ":" + strconv.Itoa(req.Port),
		Username: req.Username,
		Password: req.Password,
		DB:       req.DB,
	}
	if err := h.deps.Monitor.Connect(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "connected",
		"addr":   cfg.Addr,
	})
}

func (h *handlers) monitorDisconnect(w http.ResponseWriter, _ *http.Request) {
	h.deps.Monitor.Disconnect()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type startRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (h *handlers) monitorStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	interval := time.Duration(req.IntervalSeconds) * time.Second
	if err := h.deps.Monitor.StartMonitoring(interval); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "monitoring",
		"interval_seconds": int(interval.Seconds()),
	})
}

func (h *handlers) monitorStop(w http.ResponseWriter, _ *http.Request) {
	h.deps.Monitor.StopMonitoring()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) monitorStatus(w http.ResponseWriter, _ *http.Request) {
	latest, ok := h.deps.Monitor.Latest()
	status := map[string]any{
		"state":         string(h.deps.Monitor.State()),
		"addr":          h.deps.Monitor.Addr(),
		"active_alerts": len(h.deps.Monitor.ActiveAlerts()),
	}
	if ok {
		status["last_sample_at"] = latest.Timestamp
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *handlers) monitorMetrics(w http.ResponseWriter, _ *http.Request) {
	latest, ok := h.deps.Monitor.Latest()
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"available":            true,
		"sample":               latest,
		"memory_usage_percent": latest.Metrics.MemoryUsagePercent(),
		"hit_rate":             latest.Metrics.HitRate(),
	})
}

func (h *handlers) monitorAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	alerts := h.deps.Monitor.Alerts()
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(alerts),
		"alerts": alerts,
	})
}

// monitorAnalyze runs an incident analysis over the server's current state.
// With no active alerts the server is reported healthy and no analysis runs.
func (h *handlers) monitorAnalyze(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.deps.Monitor.Latest()
	if !ok {
		h.writeError(w, monitor.ErrNotConnected)
		return
	}

	active := h.deps.Monitor.ActiveAlerts()
	if len(active) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"sample":      latest,
			"analyzed_at": time.Now().UTC(),
		})
		return
	}

	logs := make([]string, 0, len(active))
	for _, alert := range active {
		logs = append(logs, alert.Message)
	}
	in := models.IncidentInput{
		Timestamp:      time.Now().UTC(),
		ErrorLogs:      logs,
		Metrics:        &latest.Metrics,
		RedisVersion:   latest.Metrics.RedisVersion,
		DeploymentType: models.DeploymentStandalone,
		Description:    "자동 감지된 장애 알림 " + strconv.Itoa(len(active)) + "건",
	}
	result, err := h.deps.Analyzer.Analyze(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "alert",
		"result": result,
		"alerts": active,
		"sample": latest,
	})
}

// --- fault injection ---

type fillMemoryRequest struct {
	SizeMB int `json:"size_mb"`
}

func (h *handlers) testFillMemory(w http.ResponseWriter, r *http.Request) {
	var req fillMemoryRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	report, err := h.deps.Injector.FillMemory(r.Context(), req.SizeMB)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type manyConnectionsRequest struct {
	Count int `json:"count"`
}

func (h *handlers) testManyConnections(w http.ResponseWriter, r *http.Request) {
	var req manyConnectionsRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	report, err := h.deps.Injector.ExhaustConnections(r.Context(), req.Count)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *handlers) testSlowQuery(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Injector.TriggerSlowOperation(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys_scanned":    report.KeysScanned,
		"elapsed_seconds": report.Elapsed.Seconds(),
	})
}

// testInfo dumps the raw INFO payload for debugging fault scenarios.
func (h *handlers) testInfo(w http.ResponseWriter, r *http.Request) {
	conn, err := h.deps.Monitor.Conn()
	if err != nil {
		h.writeError(w, err)
		return
	}
	raw, err := conn.Info(r.Context(), r.URL.Query().Get("section"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"info": raw})
}

func (h *handlers) testCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Injector.Cleanup(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}
