package models

import "time"

// ResultOrigin tags how an AnalysisResult was produced, so confidence
// scoring stays explicit instead of being inferred from response shape.
type ResultOrigin string

const (
	// OriginHeuristic means the generative backend failed entirely and the
	// result comes from local classification only.
	OriginHeuristic ResultOrigin = "heuristic"
	// OriginGenerated means the backend answered and its structured response
	// parsed cleanly.
	OriginGenerated ResultOrigin = "generated"
	// OriginGeneratedUnparsed means the backend answered but the response did
	// not parse; heuristic fields filled the gaps.
	OriginGeneratedUnparsed ResultOrigin = "generated_unparsed"
)

// DetailedStep is one remediation step in an analysis result.
type DetailedStep struct {
	Step           int    `json:"step"`
	Action         string `json:"action"`
	Command        string `json:"command,omitempty"`
	ExpectedResult string `json:"expected_result,omitempty"`
}

// RelatedCase references a knowledge document retrieved for the incident.
type RelatedCase struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// AnalysisResult is the immutable outcome of one analysis invocation.
type AnalysisResult struct {
	IncidentID        string         `json:"incident_id"`
	Severity          Severity       `json:"severity"`
	Category          Category       `json:"category"`
	Summary           string         `json:"summary"`
	RootCauseAnalysis string         `json:"root_cause_analysis"`
	ImmediateActions  []string       `json:"immediate_actions"`
	DetailedSteps     []DetailedStep `json:"detailed_steps"`
	RelatedCases      []RelatedCase  `json:"related_cases"`
	PreventionTips    []string       `json:"prevention_tips"`
	ConfidenceScore   float64        `json:"confidence_score"`
	References        []string       `json:"references,omitempty"`
	Origin            ResultOrigin   `json:"origin"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
}
