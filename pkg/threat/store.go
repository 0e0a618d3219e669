package threat

import (
	"sync"

	"github.com/guardmesh/sentinel/pkg/types"
)

// Store holds enriched threat patterns. Records are append-only: an ID is
// immutable once stored and never deleted. Writes come from the single
// enrichment consumer; reads are free.
type Store struct {
	mu       sync.RWMutex
	patterns map[string]types.ThreatPattern
	order    []string
}

func NewStore() *Store {
	return &Store{
		patterns: make(map[string]types.ThreatPattern),
	}
}

// Add stores an enriched pattern. Re-adding an existing ID is a no-op so
// repeated scans of the same source item stay idempotent.
func (s *Store) Add(p types.ThreatPattern) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patterns[p.ID]; exists {
		return false
	}
	s.patterns[p.ID] = p
	s.order = append(s.order, p.ID)
	return true
}

// Seen reports whether the ID has already been enriched.
func (s *Store) Seen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patterns[id]
	return ok
}

func (s *Store) Get(id string) (types.ThreatPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	return p, ok
}

// All returns patterns in insertion order.
func (s *Store) All() []types.ThreatPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ThreatPattern, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.patterns[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// AggregateLevel derives the overall threat level: the worst severity seen,
// bumped one tier when five or more high/critical patterns are stored,
// capped at CRITICAL.
func (s *Store) AggregateLevel() types.RiskLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level := types.RiskSafe
	elevated := 0
	for _, id := range s.order {
		p := s.patterns[id]
		if l := severityToRisk(p.Severity); l > level {
			level = l
		}
		if p.Severity == types.SeverityHigh || p.Severity == types.SeverityCritical {
			elevated++
		}
	}
	if elevated >= 5 && level < types.RiskCritical {
		level++
	}
	return level
}

func severityToRisk(s types.Severity) types.RiskLevel {
	switch s {
	case types.SeverityCritical:
		return types.RiskCritical
	case types.SeverityHigh:
		return types.RiskHigh
	case types.SeverityMedium:
		return types.RiskMedium
	case types.SeverityLow:
		return types.RiskLow
	default:
		return types.RiskSafe
	}
}
