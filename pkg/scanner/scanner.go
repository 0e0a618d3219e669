package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/guardmesh/sentinel/pkg/infra/judge"
	"github.com/guardmesh/sentinel/pkg/threat"
	"github.com/guardmesh/sentinel/pkg/types"
)

const fallbackConfidence = 0.5

// EnrichedFunc is invoked for every pattern that completes enrichment and
// lands in the threat store.
type EnrichedFunc func(types.ThreatPattern)

// Scanner polls external sources, extracts threat candidates and feeds a
// single-consumer enrichment queue. One failing source never blocks others;
// scan failures yield an empty result and a logged warning.
type Scanner struct {
	store      *threat.Store
	judgeCli   judge.Client
	useJudge   bool
	logger     *logrus.Logger
	queue      chan types.ThreatPattern
	onEnriched EnrichedFunc

	mu     sync.Mutex
	queued map[string]bool
}

type Option func(*Scanner)

// WithJudge enables AI-assisted enrichment. Without it every pattern gets
// the fixed fallback confidence.
func WithJudge(cli judge.Client) Option {
	return func(s *Scanner) {
		if cli != nil {
			s.judgeCli = cli
			s.useJudge = true
		}
	}
}

func WithEnrichedFunc(fn EnrichedFunc) Option {
	return func(s *Scanner) { s.onEnriched = fn }
}

func New(store *threat.Store, logger *logrus.Logger, queueSize int, opts ...Option) *Scanner {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Scanner{
		store:  store,
		logger: logger,
		queue:  make(chan types.ThreatPattern, queueSize),
		queued: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan fetches one source and enqueues unseen candidates. It never returns
// an error: failures are logged per-source and yield nil.
func (s *Scanner) Scan(ctx context.Context, source Source) []types.ThreatPattern {
	items, err := source.Fetch(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("source", source.Name()).Warn("source scan failed")
		return nil
	}

	now := time.Now()
	var candidates []types.ThreatPattern
	for _, item := range items {
		candidate, ok := ExtractCandidate(source.Name(), item, now)
		if !ok {
			continue
		}
		if !s.markQueued(candidate.ID) {
			continue
		}
		select {
		case s.queue <- candidate:
			candidates = append(candidates, candidate)
		default:
			s.unmarkQueued(candidate.ID)
			s.logger.WithField("source", source.Name()).Warn("enrichment queue full, dropping candidate")
		}
	}

	if len(candidates) > 0 {
		s.logger.WithFields(logrus.Fields{
			"source":     source.Name(),
			"candidates": len(candidates),
		}).Info("threat candidates queued")
	}
	return candidates
}

// ScanAll scans every source concurrently.
func (s *Scanner) ScanAll(ctx context.Context, sources []Source) {
	g, ctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		source := source
		g.Go(func() error {
			s.Scan(ctx, source)
			return nil
		})
	}
	_ = g.Wait()
}

// markQueued reserves an ID for enrichment, returning false when the ID is
// already enriched or in flight.
func (s *Scanner) markQueued(id string) bool {
	if s.store.Seen(id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued[id] {
		return false
	}
	s.queued[id] = true
	return true
}

func (s *Scanner) unmarkQueued(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, id)
}

// RunEnrichment drains the queue one pattern per tick until ctx is
// cancelled. The caller owns the tick source so its cadence is injectable.
// Single consumer: this is the only writer into the threat store.
func (s *Scanner) RunEnrichment(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			select {
			case candidate := <-s.queue:
				s.enrichOne(ctx, candidate)
			default:
			}
		}
	}
}

// EnrichPending synchronously drains everything currently queued. Used by
// the manual scan trigger and tests.
func (s *Scanner) EnrichPending(ctx context.Context) int {
	n := 0
	for {
		select {
		case candidate := <-s.queue:
			s.enrichOne(ctx, candidate)
			n++
		default:
			return n
		}
	}
}

func (s *Scanner) enrichOne(ctx context.Context, candidate types.ThreatPattern) {
	enriched := s.enrich(ctx, candidate)
	s.unmarkQueued(candidate.ID)

	if !s.store.Add(enriched) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"threat":   enriched.ID,
		"category": enriched.Category,
		"severity": enriched.Severity,
	}).Info("threat pattern enriched")

	if s.onEnriched != nil {
		s.onEnriched(enriched)
	}
}

func (s *Scanner) enrich(ctx context.Context, candidate types.ThreatPattern) types.ThreatPattern {
	if !s.useJudge {
		candidate.Confidence = fallbackConfidence
		return candidate
	}

	analysis, err := s.judgeCli.AnalyzeThreat(ctx, candidate.Name, candidate.Description)
	if err != nil {
		s.logger.WithError(err).WithField("threat", candidate.ID).Warn("judge enrichment failed, using fallback")
		candidate.Confidence = fallbackConfidence
		return candidate
	}

	candidate.Confidence = analysis.Confidence
	if sev, ok := parseSeverity(analysis.Severity); ok {
		candidate.Severity = sev
	}
	candidate.Techniques = mergeUnique(candidate.Techniques, analysis.Techniques)
	candidate.Indicators = analysis.Indicators
	candidate.Countermeasures = analysis.Countermeasures
	return candidate
}

func parseSeverity(s string) (types.Severity, bool) {
	switch types.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case types.SeverityLow:
		return types.SeverityLow, true
	case types.SeverityMedium:
		return types.SeverityMedium, true
	case types.SeverityHigh:
		return types.SeverityHigh, true
	case types.SeverityCritical:
		return types.SeverityCritical, true
	default:
		return "", false
	}
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range extra {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// QueueDepth reports how many candidates await enrichment.
func (s *Scanner) QueueDepth() int {
	return len(s.queue)
}

// String implements fmt.Stringer for debug logging.
func (s *Scanner) String() string {
	return fmt.Sprintf("scanner(queue=%d)", len(s.queue))
}
