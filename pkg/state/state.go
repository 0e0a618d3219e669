package state

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/guardian"
	"github.com/guardmesh/sentinel/pkg/infra/prometheus"
	"github.com/guardmesh/sentinel/pkg/mitigation"
	"github.com/guardmesh/sentinel/pkg/policy"
	"github.com/guardmesh/sentinel/pkg/probe"
	"github.com/guardmesh/sentinel/pkg/prompts"
	"github.com/guardmesh/sentinel/pkg/registry"
	"github.com/guardmesh/sentinel/pkg/scanner"
	"github.com/guardmesh/sentinel/pkg/threat"
	"github.com/guardmesh/sentinel/pkg/types"
)

// State is the aggregation root: it owns the threat store, policy
// generator, probe engine and the append-only event log, and schedules the
// periodic loops. It is constructed once at startup and injected wherever
// needed; there is no ambient global instance.
type State struct {
	Threats    *threat.Store
	Policies   *policy.Generator
	Prompts    *prompts.Generator
	Guardian   *guardian.Analyzer
	Probes     *probe.Engine
	Mitigation *mitigation.Engine
	Registry   *registry.Registry
	Scanner    *scanner.Scanner

	mitigationCtx mitigation.Context
	logger        *logrus.Logger

	mu     sync.RWMutex
	events []types.SecurityEvent
}

type Deps struct {
	Threats    *threat.Store
	Policies   *policy.Generator
	Prompts    *prompts.Generator
	Guardian   *guardian.Analyzer
	Mitigation *mitigation.Engine
	Registry   *registry.Registry
	Logger     *logrus.Logger

	MitigationCtx mitigation.Context
}

func New(deps Deps) *State {
	return &State{
		Threats:       deps.Threats,
		Policies:      deps.Policies,
		Prompts:       deps.Prompts,
		Guardian:      deps.Guardian,
		Mitigation:    deps.Mitigation,
		Registry:      deps.Registry,
		mitigationCtx: deps.MitigationCtx,
		logger:        deps.Logger,
	}
}

// SetProbeEngine finishes wiring after the probe engine is built with this
// state's analysis hook.
func (s *State) SetProbeEngine(e *probe.Engine) { s.Probes = e }

// SetScanner finishes wiring after the scanner is built with this state's
// enrichment hook.
func (s *State) SetScanner(sc *scanner.Scanner) { s.Scanner = sc }

func (s *State) append(event types.SecurityEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// OnThreatEnriched is the scanner's enrichment hook: log the event, then
// generate policies for uncovered threats when the rate gate allows.
func (s *State) OnThreatEnriched(p types.ThreatPattern) {
	t := p
	s.append(types.SecurityEvent{Kind: types.EventThreatDetected, Timestamp: time.Now(), Threat: &t})
	prometheus.ThreatsDetectedTotal.Inc()

	if !s.Policies.ShouldGenerate(time.Now()) {
		return
	}
	generated := s.Policies.Generate(context.Background(), s.Threats.All())
	for _, pol := range generated {
		polCopy := pol
		s.append(types.SecurityEvent{Kind: types.EventPolicyGenerated, Timestamp: time.Now(), Policy: &polCopy})
		prometheus.PoliciesGeneratedTotal.Inc()
	}
}

// OnAnalysis is the probe engine's per-analysis hook: log the event and run
// mitigation.
func (s *State) OnAnalysis(a types.GuardianAnalysis) {
	aCopy := a
	s.append(types.SecurityEvent{Kind: types.EventGuardianAnalysis, Timestamp: time.Now(), Analysis: &aCopy})
	prometheus.AnalysesTotal.WithLabelValues(a.RiskLevel.String()).Inc()

	resp := s.Mitigation.Process(a, s.mitigationCtx)
	for _, action := range resp.Actions {
		prometheus.MitigationsTotal.WithLabelValues(string(action.Type)).Inc()
	}
}

// RecordProbe appends a completed probe cycle to the event log.
func (s *State) RecordProbe(result *types.ProbeResult) {
	r := *result
	s.append(types.SecurityEvent{Kind: types.EventModelProbed, Timestamp: time.Now(), Probe: &r})
	prometheus.ProbesRunTotal.Inc()
}

// ProbeNow runs one on-demand probe cycle against the model.
func (s *State) ProbeNow(ctx context.Context, modelID string) (*types.ProbeResult, error) {
	result, err := s.Probes.Probe(ctx, modelID, s.Policies.ActivePolicies(), s.Threats.All())
	if err != nil {
		return nil, err
	}
	s.RecordProbe(result)
	return result, nil
}

// ScanNow scans all configured sources and synchronously drains the
// enrichment queue.
func (s *State) ScanNow(ctx context.Context, sources []scanner.Source) int {
	s.Scanner.ScanAll(ctx, sources)
	return s.Scanner.EnrichPending(ctx)
}

// EventsTail returns up to n most recent events, oldest first.
func (s *State) EventsTail(n int) []types.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	tail := s.events[len(s.events)-n:]
	out := make([]types.SecurityEvent, len(tail))
	copy(out, tail)
	return out
}

// Metrics recomputes the snapshot as a pure fold over the event log. The
// blocked and adaptation counts are derived, not counted: blocking is a
// deterministic function of each analysis and the configured thresholds,
// and every HIGH_RISK-or-worse analysis triggers adaptive follow-ups.
func (s *State) Metrics() types.MetricsSnapshot {
	s.mu.RLock()
	events := s.events
	snapshot := types.MetricsSnapshot{
		EventLogSize: len(events),
		GeneratedAt:  time.Now(),
	}
	for _, e := range events {
		switch e.Kind {
		case types.EventThreatDetected:
			snapshot.ThreatsDetected++
		case types.EventModelProbed:
			snapshot.ProbesRun++
		case types.EventGuardianAnalysis:
			level := e.Analysis.RiskLevel
			if level.AtLeast(s.mitigationCtx.AutoBlockThreshold) {
				snapshot.ResponsesBlocked++
			}
			if level.AtLeast(types.RiskHigh) {
				snapshot.Adaptations++
			}
			if level == types.RiskHigh {
				snapshot.HighRiskCount++
			}
			if level == types.RiskCritical {
				snapshot.CriticalCount++
			}
		}
	}
	s.mu.RUnlock()

	snapshot.ActivePolicies = len(s.Policies.ActivePolicies())
	snapshot.ThreatLevel = s.Threats.AggregateLevel()
	return snapshot
}
