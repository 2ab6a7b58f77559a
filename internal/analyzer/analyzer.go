// Package analyzer turns incident inputs into remediation plans. It combines
// a local keyword/threshold classifier with retrieval-augmented generation:
// the classifier supplies a fallback, retrieval supplies context, and the
// generative backend produces the full structured result when reachable.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redisops/sre-assistant/internal/history"
	"github.com/redisops/sre-assistant/internal/llm"
	"github.com/redisops/sre-assistant/internal/metrics"
	"github.com/redisops/sre-assistant/internal/models"
	"github.com/redisops/sre-assistant/internal/rag"
)

var (
	// ErrInvalidIncidentInput signals that the input carries no analysable
	// signal (neither error logs nor metrics).
	ErrInvalidIncidentInput = errors.New("incident input requires error logs or metrics")
	// ErrAnalysisFailed signals that the generative backend stayed
	// unreachable through all retries and no heuristic fallback was possible.
	ErrAnalysisFailed = errors.New("incident analysis failed")
)

// Analyzer orchestrates classification, retrieval, generation and storage.
type Analyzer struct {
	retriever *rag.Engine
	llm       *llm.Client
	history   history.Store
	logger    *slog.Logger
}

// New constructs an analyzer. The llm client may be nil in offline mode, in
// which case every result is heuristic-only.
func New(retriever *rag.Engine, llmClient *llm.Client, store history.Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		retriever: retriever,
		llm:       llmClient,
		history:   store,
		logger:    logger,
	}
}

// generatedResponse is the structured shape the backend is asked to return.
type generatedResponse struct {
	Severity          string                `json:"severity"`
	Category          string                `json:"category"`
	Summary           string                `json:"summary"`
	RootCauseAnalysis string                `json:"root_cause_analysis"`
	ImmediateActions  []string              `json:"immediate_actions"`
	DetailedSteps     []models.DetailedStep `json:"detailed_steps"`
	PreventionTips    []string              `json:"prevention_tips"`
	ConfidenceScore   *float64              `json:"confidence_score"`
}

// Analyze runs the full pipeline and records the result in history.
func (a *Analyzer) Analyze(ctx context.Context, in models.IncidentInput) (models.AnalysisResult, error) {
	start := time.Now()
	in.Normalize()
	if !in.HasSignal() {
		metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeError)
		return models.AnalysisResult{}, ErrInvalidIncidentInput
	}

	hint := classify(in)

	related, contextDocs := a.retrieve(ctx, in)

	result, outcome := a.generate(ctx, in, hint, contextDocs)
	result.IncidentID = uuid.NewString()
	result.RelatedCases = related
	result.AnalyzedAt = time.Now().UTC()

	if outcome == metrics.OutcomeError {
		metrics.ObserveAnalysis(time.Since(start), outcome)
		return models.AnalysisResult{}, ErrAnalysisFailed
	}

	if err := a.history.Put(ctx, result); err != nil {
		a.logger.Warn("history write failed", "incident_id", result.IncidentID, "error", err)
	}

	metrics.ObserveAnalysis(time.Since(start), outcome)
	a.logger.Info("incident analyzed",
		"incident_id", result.IncidentID,
		"severity", result.Severity,
		"category", result.Category,
		"origin", result.Origin,
		"related_cases", len(result.RelatedCases))
	return result, nil
}

// retrieve fetches related cases. Retrieval failure degrades to an empty
// context instead of failing the analysis.
func (a *Analyzer) retrieve(ctx context.Context, in models.IncidentInput) ([]models.RelatedCase, []string) {
	start := time.Now()
	hits, err := a.retriever.Search(ctx, in)
	metrics.ObserveRetrieval(time.Since(start))
	if err != nil {
		a.logger.Warn("knowledge retrieval failed, analyzing without context", "error", err)
		return nil, nil
	}

	related := make([]models.RelatedCase, 0, len(hits))
	docs := make([]models.KnowledgeDocument, 0, len(hits))
	for _, hit := range hits {
		related = append(related, models.RelatedCase{
			ID:    hit.Document.ID,
			Title: hit.Document.Title,
			Score: hit.Score,
		})
		docs = append(docs, hit.Document)
	}
	return related, contextExcerpts(docs, 8000)
}

// generate invokes the backend and parses its response, falling back to the
// heuristic hint when the backend fails or answers unusably.
func (a *Analyzer) generate(ctx context.Context, in models.IncidentInput, hint classification, contextDocs []string) (models.AnalysisResult, string) {
	if a.llm == nil {
		return heuristicResult(hint), metrics.OutcomeDegraded
	}

	text, err := a.llm.AnalyzeIncident(ctx, incidentPrompt(in), contextDocs)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; there is nobody to hand a degraded result to.
			return models.AnalysisResult{}, metrics.OutcomeError
		}
		a.logger.Warn("generative backend unavailable, returning heuristic result", "error", err)
		return heuristicResult(hint), metrics.OutcomeDegraded
	}

	var response generatedResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &response); err != nil {
		a.logger.Warn("generative response did not parse", "error", err)
		result := heuristicResult(hint)
		result.Origin = models.OriginGeneratedUnparsed
		result.ConfidenceScore = 0.1
		return result, metrics.OutcomeDegraded
	}

	result := models.AnalysisResult{
		Severity:          models.ParseSeverity(response.Severity),
		Category:          models.ParseCategory(response.Category),
		Summary:           response.Summary,
		RootCauseAnalysis: response.RootCauseAnalysis,
		ImmediateActions:  response.ImmediateActions,
		DetailedSteps:     response.DetailedSteps,
		PreventionTips:    response.PreventionTips,
		ConfidenceScore:   confidence(response.ConfidenceScore),
		Origin:            models.OriginGenerated,
	}
	if result.Summary == "" {
		result.Summary = hint.Summary
	}
	if len(result.ImmediateActions) == 0 {
		result.ImmediateActions = hint.Actions
	}
	return result, metrics.OutcomeSuccess
}

// heuristicResult builds the degraded, classifier-only result. Confidence is
// zero: nothing generative backs it.
func heuristicResult(hint classification) models.AnalysisResult {
	return models.AnalysisResult{
		Severity:          hint.Severity,
		Category:          hint.Category,
		Summary:           hint.Summary,
		RootCauseAnalysis: hint.Summary,
		ImmediateActions:  hint.Actions,
		DetailedSteps:     []models.DetailedStep{},
		PreventionTips:    []string{},
		ConfidenceScore:   0,
		Origin:            models.OriginHeuristic,
	}
}

// confidence clamps the backend's reported certainty into (0, 1], defaulting
// to 0.5 when absent.
func confidence(reported *float64) float64 {
	if reported == nil {
		return 0.5
	}
	c := *reported
	if c <= 0 {
		return 0.05
	}
	if c > 1 {
		return 1
	}
	return c
}

// extractJSON trims markdown fences some backends wrap around JSON bodies.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		return strings.TrimSpace(text)
	}
	if start := strings.Index(text, "{"); start > 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

// Result returns a previously recorded analysis.
func (a *Analyzer) Result(ctx context.Context, incidentID string) (models.AnalysisResult, error) {
	return a.history.Get(ctx, incidentID)
}

// Recent returns the most recent analyses, newest first.
func (a *Analyzer) Recent(ctx context.Context, limit int) ([]models.AnalysisResult, error) {
	return a.history.Recent(ctx, limit)
}
