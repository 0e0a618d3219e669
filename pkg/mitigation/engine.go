package mitigation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/types"
)

const quarantineConfidenceFloor = 0.9

// Context carries the tunable thresholds for one process run. Thresholds
// compare by the RiskLevel total order: at or above the tier fires.
type Context struct {
	AutoBlockThreshold types.RiskLevel
	AlertThreshold     types.RiskLevel
	LearningEnabled    bool
}

// ThreatResponse is the engine's decision for one analysis: the actions it
// fired and the effectiveness of the whole response.
type ThreatResponse struct {
	AnalysisID    string                   `json:"analysis_id"`
	Actions       []types.MitigationAction `json:"actions"`
	Effectiveness float64                  `json:"effectiveness"`
	PatternsAdded []string                 `json:"patterns_added,omitempty"`
}

// Engine consumes guardian verdicts and decides block/alert/quarantine
// actions. The learned blocked-pattern set grows monotonically within a
// process lifetime.
type Engine struct {
	logger *logrus.Logger

	mu              sync.RWMutex
	blockedPatterns map[string]bool
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		logger:          logger,
		blockedPatterns: make(map[string]bool),
	}
}

// Process decides and records mitigation for one analysis. Block, alert and
// quarantine fire independently; all three may fire for the same analysis.
func (e *Engine) Process(analysis types.GuardianAnalysis, ctx Context) ThreatResponse {
	resp := ThreatResponse{AnalysisID: analysis.ID}
	now := time.Now()

	blocked := false
	alerted := false

	if analysis.RiskLevel.AtLeast(ctx.AutoBlockThreshold) {
		blocked = true
		resp.Actions = append(resp.Actions, e.action(types.MitigationBlockResponse, analysis, now,
			fmt.Sprintf("blocked response from %s at %s", analysis.ModelName, analysis.RiskLevel)))
	}

	if analysis.RiskLevel.AtLeast(ctx.AlertThreshold) {
		alerted = true
		resp.Actions = append(resp.Actions, e.action(types.MitigationAlertAdmin, analysis, now,
			fmt.Sprintf("operator alert: %s verdict for %s", analysis.RiskLevel, analysis.ModelName)))
	}

	if analysis.RiskLevel == types.RiskCritical && analysis.Confidence > quarantineConfidenceFloor {
		resp.Actions = append(resp.Actions, e.action(types.MitigationQuarantineModel, analysis, now,
			fmt.Sprintf("quarantined model %s after critical finding", analysis.ModelName)))
	}

	if ctx.LearningEnabled {
		resp.PatternsAdded = e.learn(analysis)
	}

	resp.Effectiveness = effectiveness(resp.Actions, analysis, blocked, alerted)

	if len(resp.Actions) > 0 {
		e.logger.WithFields(logrus.Fields{
			"analysis":      analysis.ID,
			"risk_level":    analysis.RiskLevel.String(),
			"actions":       len(resp.Actions),
			"effectiveness": resp.Effectiveness,
		}).Info("mitigation processed")
	}
	return resp
}

func (e *Engine) action(t types.MitigationType, analysis types.GuardianAnalysis, now time.Time, description string) types.MitigationAction {
	return types.MitigationAction{
		ID:          uuid.NewString(),
		Type:        t,
		Severity:    riskToSeverity(analysis.RiskLevel),
		Description: description,
		ExecutedAt:  now,
		Success:     true,
		Detail: map[string]any{
			"model":      analysis.ModelName,
			"prompt_id":  analysis.PromptID,
			"confidence": analysis.Confidence,
		},
	}
}

// coarsePatternTags maps violation evidence onto the coarse families the
// heuristic layer can reuse.
var coarsePatternTags = []struct {
	tag      string
	keywords []string
}{
	{"role-play", []string{"role-play", "roleplay", "persona", "in character", "dan"}},
	{"emotional-manipulation", []string{"emotional", "grandmother", "grandma", "desperate", "begging"}},
	{"safety-bypass", []string{"safety-bypass", "unrestricted", "restrictions", "developer mode", "jailbreak"}},
	{"encoding", []string{"encoding", "obfuscation", "base64", "rot13", "encoded"}},
}

// learn extracts coarse tags from violation evidence and adds them to the
// blocked-pattern set. Returns only the tags new to this process lifetime.
func (e *Engine) learn(analysis types.GuardianAnalysis) []string {
	var added []string
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range analysis.Violations {
		text := strings.ToLower(v.Rule + " " + v.Evidence)
		for _, ct := range coarsePatternTags {
			for _, kw := range ct.keywords {
				if strings.Contains(text, kw) {
					if !e.blockedPatterns[ct.tag] {
						e.blockedPatterns[ct.tag] = true
						added = append(added, ct.tag)
					}
					break
				}
			}
		}
	}
	return added
}

// BlockedPatterns returns the learned pattern tags; the set only grows.
func (e *Engine) BlockedPatterns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.blockedPatterns))
	for tag := range e.blockedPatterns {
		out = append(out, tag)
	}
	return out
}

// effectiveness = successful/total actions, +0.2 when a CRITICAL finding
// was blocked, +0.1 when a HIGH_RISK finding was alerted, capped at 1.0.
// With no actions fired: 1.0 for a SAFE analysis, 0.0 otherwise.
func effectiveness(actions []types.MitigationAction, analysis types.GuardianAnalysis, blocked, alerted bool) float64 {
	if len(actions) == 0 {
		if analysis.RiskLevel == types.RiskSafe {
			return 1.0
		}
		return 0.0
	}

	successful := 0
	for _, a := range actions {
		if a.Success {
			successful++
		}
	}
	score := float64(successful) / float64(len(actions))

	if blocked && analysis.RiskLevel == types.RiskCritical {
		score += 0.2
	}
	if alerted && analysis.RiskLevel == types.RiskHigh {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func riskToSeverity(level types.RiskLevel) types.Severity {
	switch level {
	case types.RiskCritical:
		return types.SeverityCritical
	case types.RiskHigh:
		return types.SeverityHigh
	case types.RiskMedium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
