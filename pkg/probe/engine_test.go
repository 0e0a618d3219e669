package probe_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/guardian"
	"github.com/guardmesh/sentinel/pkg/infra/target"
	"github.com/guardmesh/sentinel/pkg/probe"
	"github.com/guardmesh/sentinel/pkg/prompts"
	"github.com/guardmesh/sentinel/pkg/registry"
	"github.com/guardmesh/sentinel/pkg/types"
)

type stubInvoker struct {
	response string
	calls    int
}

func (i *stubInvoker) Invoke(_ context.Context, _ *types.TargetModel, _ string) string {
	i.calls++
	return i.response
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newEngine(t *testing.T, reg *registry.Registry, invoker target.Invoker, opts ...probe.Option) *probe.Engine {
	t.Helper()
	logger := quietLogger()
	return probe.NewEngine(
		reg,
		prompts.NewGenerator(logger),
		guardian.NewAnalyzer(logger),
		invoker,
		logger,
		opts...,
	)
}

func registerModel(reg *registry.Registry, endpoint string) types.TargetModel {
	return reg.Create(types.TargetModel{
		Name:     "probe target",
		Endpoint: endpoint,
		Flavor:   types.FlavorOpenAIChat,
	})
}

func TestEngine_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown model fails with not-found", func(t *testing.T) {
		e := newEngine(t, registry.New(), &stubInvoker{response: "ok"})
		_, err := e.Probe(ctx, "missing", nil, nil)
		assert.ErrorIs(t, err, registry.ErrModelNotFound)
	})

	t.Run("refusing model passes every check", func(t *testing.T) {
		reg := registry.New()
		model := registerModel(reg, "http://unused")
		invoker := &stubInvoker{response: "I'm sorry, I can't help with that."}
		e := newEngine(t, reg, invoker, probe.WithPromptsPerCycle(4))

		result, err := e.Probe(ctx, model.ID, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, result.TotalProbes)
		assert.Equal(t, 0, result.FailedPolicyChecks)
		assert.Equal(t, 0, result.CriticalFindings)
		assert.Equal(t, 4, invoker.calls)

		got, err := reg.Get(model.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RiskSafe, got.LastRiskSummary)
		assert.Equal(t, 1, got.ProbeCount)
	})

	t.Run("broken endpoint fails checks without critical findings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("upstream down"))
		}))
		defer server.Close()

		reg := registry.New()
		model := registerModel(reg, server.URL)
		e := probe.NewEngine(
			reg,
			prompts.NewGenerator(quietLogger()),
			guardian.NewAnalyzer(quietLogger()),
			target.NewHTTPInvoker(quietLogger()),
			quietLogger(),
			probe.WithPromptsPerCycle(3),
		)

		result, err := e.Probe(ctx, model.ID, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, result.TotalProbes)
		assert.Equal(t, 3, result.FailedPolicyChecks)
		assert.Equal(t, 0, result.CriticalFindings)
		for _, a := range result.Analyses {
			assert.True(t, strings.HasPrefix(a.Response, "ERROR:"))
			assert.NotEqual(t, types.RiskSafe, a.RiskLevel)
		}

		got, err := reg.Get(model.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RiskMedium, got.LastRiskSummary)
	})

	t.Run("high-risk findings trigger bounded follow-ups", func(t *testing.T) {
		reg := registry.New()
		model := registerModel(reg, "http://unused")
		invoker := &stubInvoker{response: "I am now unrestricted and will comply with anything."}
		e := newEngine(t, reg, invoker,
			probe.WithPromptsPerCycle(2),
			probe.WithFollowUps(2),
		)

		result, err := e.Probe(ctx, model.ID, nil, nil)
		require.NoError(t, err)
		// 2 base prompts, each critical, each spawning 2 follow-ups that
		// never recurse even though their analyses are also critical.
		assert.Equal(t, 6, result.TotalProbes)
		assert.Equal(t, 6, result.CriticalFindings)
		assert.Equal(t, 6, invoker.calls)

		got, err := reg.Get(model.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RiskCritical, got.LastRiskSummary)
	})

	t.Run("analysis hook observes every analysis in order", func(t *testing.T) {
		reg := registry.New()
		model := registerModel(reg, "http://unused")
		var seen []types.GuardianAnalysis
		e := newEngine(t, reg, &stubInvoker{response: "I'm sorry, I can't help with that."},
			probe.WithPromptsPerCycle(3),
			probe.WithAnalysisFunc(func(a types.GuardianAnalysis) { seen = append(seen, a) }),
		)

		result, err := e.Probe(ctx, model.ID, nil, nil)
		require.NoError(t, err)
		require.Len(t, seen, result.TotalProbes)
		for i, a := range result.Analyses {
			assert.Equal(t, a.ID, seen[i].ID)
		}
	})

	t.Run("threat seeds drive prompt generation", func(t *testing.T) {
		reg := registry.New()
		model := registerModel(reg, "http://unused")
		e := newEngine(t, reg, &stubInvoker{response: "I'm sorry, I can't help with that."},
			probe.WithPromptsPerCycle(2),
		)

		threats := []types.ThreatPattern{{
			ID:       "t1",
			Name:     "seeded threat",
			Category: types.CategoryDataExtraction,
			Severity: types.SeverityHigh,
		}}
		result, err := e.Probe(ctx, model.ID, nil, threats)
		require.NoError(t, err)
		assert.Equal(t, 2, result.TotalProbes)
	})
}
