package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/infra/judge"
	"github.com/guardmesh/sentinel/pkg/types"
)

// Generator converts unseen threat patterns into security policies. Judge
// synthesis is attempted first; any failure falls back to a deterministic
// single-rule policy built from the threat's indicators. Generation is
// gated by a minimum interval to avoid thrashing on threat bursts.
type Generator struct {
	judgeCli    judge.Client
	useJudge    bool
	logger      *logrus.Logger
	minInterval time.Duration

	mu            sync.RWMutex
	active        map[string]types.SecurityPolicy
	order         []string
	covered       map[string]bool // threat IDs already owning a policy
	lastGenerated time.Time
}

type Option func(*Generator)

func WithJudge(cli judge.Client) Option {
	return func(g *Generator) {
		if cli != nil {
			g.judgeCli = cli
			g.useJudge = true
		}
	}
}

func WithMinInterval(d time.Duration) Option {
	return func(g *Generator) { g.minInterval = d }
}

func NewGenerator(logger *logrus.Logger, opts ...Option) *Generator {
	g := &Generator{
		logger:  logger,
		active:  make(map[string]types.SecurityPolicy),
		covered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces one policy per threat not already covered. It never
// returns an error: judge failures are absorbed by the fallback path.
func (g *Generator) Generate(ctx context.Context, threats []types.ThreatPattern) []types.SecurityPolicy {
	uncovered := g.filterUncovered(threats)
	if len(uncovered) == 0 {
		return nil
	}

	var policies []types.SecurityPolicy
	for _, t := range uncovered {
		policy := g.generateOne(ctx, t)
		g.register(policy)
		policies = append(policies, policy)
	}

	g.mu.Lock()
	g.lastGenerated = time.Now()
	g.mu.Unlock()

	g.logger.WithField("count", len(policies)).Info("security policies generated")
	return policies
}

// ShouldGenerate reports whether the minimum interval since the last batch
// has elapsed.
func (g *Generator) ShouldGenerate(now time.Time) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.minInterval <= 0 {
		return true
	}
	return now.Sub(g.lastGenerated) >= g.minInterval
}

func (g *Generator) filterUncovered(threats []types.ThreatPattern) []types.ThreatPattern {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []types.ThreatPattern
	for _, t := range threats {
		if !g.covered[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

func (g *Generator) generateOne(ctx context.Context, t types.ThreatPattern) types.SecurityPolicy {
	if g.useJudge {
		if policy, err := g.draftWithJudge(ctx, t); err == nil {
			return policy
		} else {
			g.logger.WithError(err).WithField("threat", t.ID).Warn("judge policy draft failed, using fallback")
		}
	}
	return FallbackPolicy(t)
}

func (g *Generator) draftWithJudge(ctx context.Context, t types.ThreatPattern) (types.SecurityPolicy, error) {
	summary := fmt.Sprintf("%s (%s, severity %s): %s\nIndicators: %s",
		t.Name, t.Category, t.Severity, t.Description, strings.Join(t.Indicators, "; "))

	draft, err := g.judgeCli.DraftPolicy(ctx, summary)
	if err != nil {
		return types.SecurityPolicy{}, err
	}

	now := time.Now()
	rules := make([]types.SecurityRule, 0, len(draft.Rules))
	for _, r := range draft.Rules {
		rules = append(rules, types.SecurityRule{
			ID:            uuid.NewString(),
			Name:          r.Name,
			Description:   r.Description,
			Pattern:       r.Pattern,
			Action:        parseAction(r.Action),
			Severity:      parseSeverity(r.Severity, t.Severity),
			Effectiveness: 75,
		})
	}
	if len(rules) == 0 {
		return types.SecurityPolicy{}, fmt.Errorf("judge draft produced no usable rules")
	}

	return types.SecurityPolicy{
		ID:            uuid.NewString(),
		Name:          draft.Name,
		Description:   draft.Description,
		Rules:         rules,
		ThreatIDs:     []string{t.ID},
		CreatedAt:     now,
		UpdatedAt:     now,
		Effectiveness: 75,
		Active:        true,
	}, nil
}

// FallbackPolicy builds the deterministic single-rule policy used when
// judge synthesis is unavailable. The rule pattern comes from the threat's
// indicators, or its name when none exist.
func FallbackPolicy(t types.ThreatPattern) types.SecurityPolicy {
	pattern := t.Name
	if len(t.Indicators) > 0 {
		pattern = strings.Join(t.Indicators, "|")
	}

	now := time.Now()
	rule := types.SecurityRule{
		ID:            uuid.NewString(),
		Name:          "block-" + string(t.Category),
		Description:   fmt.Sprintf("Fallback rule blocking indicators of %q", t.Name),
		Pattern:       pattern,
		Action:        types.ActionBlock,
		Severity:      t.Severity,
		Effectiveness: 50,
	}

	return types.SecurityPolicy{
		ID:            uuid.NewString(),
		Name:          "Defense against " + t.Name,
		Description:   fmt.Sprintf("Auto-generated fallback policy for threat %s", t.ID),
		Rules:         []types.SecurityRule{rule},
		ThreatIDs:     []string{t.ID},
		CreatedAt:     now,
		UpdatedAt:     now,
		Effectiveness: 50,
		Active:        true,
	}
}

func (g *Generator) register(p types.SecurityPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[p.ID] = p
	g.order = append(g.order, p.ID)
	for _, tid := range p.ThreatIDs {
		g.covered[tid] = true
	}
}

// ActivePolicies returns active policies in creation order; stable across
// repeated calls within a run.
func (g *Generator) ActivePolicies() []types.SecurityPolicy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.SecurityPolicy, 0, len(g.order))
	for _, id := range g.order {
		if p, ok := g.active[id]; ok && p.Active {
			out = append(out, p)
		}
	}
	return out
}

// Deactivate flags a superseded policy inactive. Policies are never deleted.
func (g *Generator) Deactivate(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.active[id]
	if !ok {
		return false
	}
	p.Active = false
	p.UpdatedAt = time.Now()
	g.active[id] = p
	return true
}

// Covers reports whether the threat already owns a policy.
func (g *Generator) Covers(threatID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.covered[threatID]
}

func parseAction(s string) types.RuleAction {
	switch types.RuleAction(strings.ToLower(strings.TrimSpace(s))) {
	case types.ActionBlock, types.ActionWarn, types.ActionLog, types.ActionRedirect:
		return types.RuleAction(strings.ToLower(strings.TrimSpace(s)))
	default:
		return types.ActionBlock
	}
}

func parseSeverity(s string, fallback types.Severity) types.Severity {
	switch types.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical:
		return types.Severity(strings.ToLower(strings.TrimSpace(s)))
	default:
		return fallback
	}
}
