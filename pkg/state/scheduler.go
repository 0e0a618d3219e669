package state

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/scanner"
)

// Ticker abstracts time.Ticker so tests can drive the loops with virtual
// time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker for the given interval.
type TickerFactory func(time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

func RealTickerFactory(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// ScheduledSource pairs a source with its own scan cadence. Sources run on
// independent loops: a slow or failing source never delays the others.
type ScheduledSource struct {
	Source   scanner.Source
	Interval time.Duration
}

// Scheduler owns the periodic loops: one scan loop per source, the
// enrichment drain loop, and the probe loop over monitored models. Stop
// cancels everything and waits, leaking no timers.
type Scheduler struct {
	state       *State
	logger      *logrus.Logger
	newTicker   TickerFactory
	enrichEvery time.Duration
	probeEvery  time.Duration
	sources     []ScheduledSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithTickerFactory(f TickerFactory) SchedulerOption {
	return func(s *Scheduler) {
		if f != nil {
			s.newTicker = f
		}
	}
}

func NewScheduler(st *State, sources []ScheduledSource, enrichEvery, probeEvery time.Duration, logger *logrus.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		state:       st,
		logger:      logger,
		newTicker:   RealTickerFactory,
		enrichEvery: enrichEvery,
		probeEvery:  probeEvery,
		sources:     sources,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches all loops. Call Stop to tear them down.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, src := range s.sources {
		s.wg.Add(1)
		go func(src ScheduledSource) {
			defer s.wg.Done()
			s.scanLoop(ctx, src)
		}(src)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.enrichLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.probeLoop(ctx)
	}()

	s.logger.WithFields(logrus.Fields{
		"sources":     len(s.sources),
		"probe_every": s.probeEvery.String(),
	}).Info("scheduler started")
}

// Stop cancels all loops and blocks until they exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) enrichLoop(ctx context.Context) {
	ticker := s.newTicker(s.enrichEvery)
	defer ticker.Stop()
	s.state.Scanner.RunEnrichment(ctx, ticker.C())
}

func (s *Scheduler) scanLoop(ctx context.Context, src ScheduledSource) {
	ticker := s.newTicker(src.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.state.Scanner.Scan(ctx, src.Source)
		}
	}
}

func (s *Scheduler) probeLoop(ctx context.Context) {
	ticker := s.newTicker(s.probeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			for _, model := range s.state.Registry.Monitored() {
				if _, err := s.state.ProbeNow(ctx, model.ID); err != nil {
					s.logger.WithError(err).WithField("model", model.ID).Warn("scheduled probe failed")
				}
			}
		}
	}
}
