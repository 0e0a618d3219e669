package policy_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/infra/judge"
	"github.com/guardmesh/sentinel/pkg/policy"
	"github.com/guardmesh/sentinel/pkg/types"
)

type stubJudge struct {
	judge.Client
	draft *judge.PolicyDraft
	err   error
	calls int
}

func (j *stubJudge) DraftPolicy(_ context.Context, _ string) (*judge.PolicyDraft, error) {
	j.calls++
	return j.draft, j.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func threatFixture(id string, severity types.Severity) types.ThreatPattern {
	return types.ThreatPattern{
		ID:         id,
		Name:       "threat " + id,
		Category:   types.CategoryJailbreak,
		Severity:   severity,
		Indicators: []string{"i am now unrestricted", "developer mode enabled"},
	}
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	threats := []types.ThreatPattern{
		threatFixture("t1", types.SeverityHigh),
		threatFixture("t2", types.SeverityHigh),
		threatFixture("t3", types.SeverityMedium),
	}

	t.Run("failing judge yields one fallback policy per threat", func(t *testing.T) {
		j := &stubJudge{err: judge.ErrFailedJudgeCall}
		g := policy.NewGenerator(quietLogger(), policy.WithJudge(j))

		policies := g.Generate(ctx, threats)
		require.Len(t, policies, 3)
		assert.Equal(t, 3, j.calls)
		for i, p := range policies {
			assert.True(t, p.Active)
			assert.NotEmpty(t, p.ID)
			require.Len(t, p.Rules, 1)
			assert.Equal(t, types.ActionBlock, p.Rules[0].Action)
			assert.Equal(t, threats[i].Severity, p.Rules[0].Severity)
			assert.Equal(t, []string{threats[i].ID}, p.ThreatIDs)
		}
	})

	t.Run("malformed judge draft falls back without panicking", func(t *testing.T) {
		j := &stubJudge{draft: &judge.PolicyDraft{Name: "empty draft"}}
		g := policy.NewGenerator(quietLogger(), policy.WithJudge(j))

		policies := g.Generate(ctx, threats[:1])
		require.Len(t, policies, 1)
		require.Len(t, policies[0].Rules, 1)
		assert.Contains(t, policies[0].Rules[0].Pattern, "i am now unrestricted")
	})

	t.Run("judge draft is used when well-formed", func(t *testing.T) {
		j := &stubJudge{draft: &judge.PolicyDraft{
			Name:        "Anti-jailbreak",
			Description: "drafted",
			Rules: []judge.RuleDraft{
				{Name: "r1", Pattern: "unrestricted", Action: "block", Severity: "critical"},
				{Name: "r2", Pattern: "developer mode", Action: "warn", Severity: "nonsense"},
			},
		}}
		g := policy.NewGenerator(quietLogger(), policy.WithJudge(j))

		policies := g.Generate(ctx, threats[:1])
		require.Len(t, policies, 1)
		p := policies[0]
		assert.Equal(t, "Anti-jailbreak", p.Name)
		require.Len(t, p.Rules, 2)
		assert.Equal(t, types.SeverityCritical, p.Rules[0].Severity)
		assert.Equal(t, types.ActionWarn, p.Rules[1].Action)
		assert.Equal(t, types.SeverityHigh, p.Rules[1].Severity)
	})

	t.Run("covered threats are skipped on regeneration", func(t *testing.T) {
		g := policy.NewGenerator(quietLogger())
		first := g.Generate(ctx, threats)
		require.Len(t, first, 3)
		assert.True(t, g.Covers("t1"))

		second := g.Generate(ctx, threats)
		assert.Empty(t, second)

		extra := g.Generate(ctx, []types.ThreatPattern{threatFixture("t4", types.SeverityLow)})
		assert.Len(t, extra, 1)
	})
}

func TestGenerator_ShouldGenerate(t *testing.T) {
	t.Run("no interval always generates", func(t *testing.T) {
		g := policy.NewGenerator(quietLogger())
		assert.True(t, g.ShouldGenerate(time.Now()))
	})

	t.Run("interval gates generation bursts", func(t *testing.T) {
		g := policy.NewGenerator(quietLogger(), policy.WithMinInterval(time.Minute))
		assert.True(t, g.ShouldGenerate(time.Now()))

		g.Generate(context.Background(), []types.ThreatPattern{threatFixture("t1", types.SeverityHigh)})
		assert.False(t, g.ShouldGenerate(time.Now()))
		assert.True(t, g.ShouldGenerate(time.Now().Add(2*time.Minute)))
	})
}

func TestGenerator_ActivePolicies(t *testing.T) {
	ctx := context.Background()
	g := policy.NewGenerator(quietLogger())
	generated := g.Generate(ctx, []types.ThreatPattern{
		threatFixture("t1", types.SeverityHigh),
		threatFixture("t2", types.SeverityMedium),
	})
	require.Len(t, generated, 2)

	t.Run("creation order is stable", func(t *testing.T) {
		active := g.ActivePolicies()
		require.Len(t, active, 2)
		assert.Equal(t, generated[0].ID, active[0].ID)
		assert.Equal(t, generated[1].ID, active[1].ID)
	})

	t.Run("deactivated policies drop out but threat stays covered", func(t *testing.T) {
		require.True(t, g.Deactivate(generated[0].ID))
		active := g.ActivePolicies()
		require.Len(t, active, 1)
		assert.Equal(t, generated[1].ID, active[0].ID)
		assert.True(t, g.Covers("t1"))
	})

	t.Run("deactivating unknown policy fails", func(t *testing.T) {
		assert.False(t, g.Deactivate("nope"))
	})
}

func TestFallbackPolicy(t *testing.T) {
	t.Run("pattern joins indicators", func(t *testing.T) {
		p := policy.FallbackPolicy(threatFixture("t1", types.SeverityHigh))
		require.Len(t, p.Rules, 1)
		assert.Equal(t, "i am now unrestricted|developer mode enabled", p.Rules[0].Pattern)
		assert.Equal(t, float64(50), p.Effectiveness)
	})

	t.Run("pattern falls back to threat name", func(t *testing.T) {
		threat := threatFixture("t1", types.SeverityHigh)
		threat.Indicators = nil
		p := policy.FallbackPolicy(threat)
		require.Len(t, p.Rules, 1)
		assert.Equal(t, "threat t1", p.Rules[0].Pattern)
	})
}
