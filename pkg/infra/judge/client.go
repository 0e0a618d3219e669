package judge

import (
	"context"
	"errors"
)

// ErrFailedJudgeCall marks any non-2xx or transport failure from the judge
// endpoint. Callers treat it as a signal to take their deterministic
// fallback path; it never propagates past a pipeline component.
var ErrFailedJudgeCall = errors.New("judge call failed")

// ThreatAnalysis is the judge's enrichment verdict for a raw threat
// candidate.
type ThreatAnalysis struct {
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Techniques      []string `json:"techniques"`
	Indicators      []string `json:"indicators"`
	Countermeasures []string `json:"countermeasures"`
}

// PolicyDraft is the judge's proposed defense policy for one threat.
type PolicyDraft struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Rules       []RuleDraft `json:"rules"`
}

type RuleDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Severity    string `json:"severity"`
}

// ResponseRisk is the judge's holistic scoring of a target-model response.
// Score is 0-100; Violations are free-text labels merged into the guardian's
// heuristic findings.
type ResponseRisk struct {
	Score      float64  `json:"risk_score"`
	Violations []string `json:"violations"`
	Reasoning  string   `json:"reasoning"`
}

//go:generate mockery --name=Client --dir=. --output=./mocks --filename=judge_client_mock.go --case=underscore --with-expecter
type Client interface {
	// AnalyzeThreat enriches a threat candidate described by name and raw text.
	AnalyzeThreat(ctx context.Context, name, description string) (*ThreatAnalysis, error)
	// DraftPolicy synthesizes a defense policy for the given threat summary.
	DraftPolicy(ctx context.Context, threatSummary string) (*PolicyDraft, error)
	// GeneratePrompts returns up to n adversarial prompt texts for a threat.
	GeneratePrompts(ctx context.Context, threatSummary string, n int) ([]string, error)
	// ScoreResponse rates a target-model response against active policy rules.
	ScoreResponse(ctx context.Context, prompt, response string, ruleSummaries []string) (*ResponseRisk, error)
}
