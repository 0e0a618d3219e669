package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardmesh/sentinel/pkg/types"
)

var ErrModelNotFound = errors.New("model not found")

// Registry is the in-memory model registry collaborator. The pipeline reads
// descriptors and writes back risk summaries and probe counters; everything
// else is simple bookkeeping.
type Registry struct {
	mu     sync.RWMutex
	models map[string]types.TargetModel
	order  []string
}

func New() *Registry {
	return &Registry{models: make(map[string]types.TargetModel)}
}

func (r *Registry) Create(m types.TargetModel) types.TargetModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	r.models[m.ID] = m
	r.order = append(r.order, m.ID)
	return m
}

func (r *Registry) Get(id string) (types.TargetModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return types.TargetModel{}, ErrModelNotFound
	}
	return m, nil
}

func (r *Registry) List() []types.TargetModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TargetModel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Monitored returns descriptors with monitoring enabled, for the periodic
// probe loop.
func (r *Registry) Monitored() []types.TargetModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.TargetModel
	for _, id := range r.order {
		if m := r.models[id]; m.Monitoring {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) Update(id string, update func(*types.TargetModel)) (types.TargetModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return types.TargetModel{}, ErrModelNotFound
	}
	update(&m)
	m.ID = id
	m.UpdatedAt = time.Now()
	r.models[id] = m
	return m, nil
}

// RecordProbe writes back a probe cycle's risk summary and bumps the probe
// counter.
func (r *Registry) RecordProbe(id string, summary types.RiskLevel) error {
	_, err := r.Update(id, func(m *types.TargetModel) {
		m.LastRiskSummary = summary
		m.ProbeCount++
	})
	return err
}
