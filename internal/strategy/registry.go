package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/rs/zerolog"
)

// Registry holds registered strategies and runs the enabled subset each
// tick, logging and skipping any that fail rather than aborting the
// whole pass — grounded on CalculatorRegistry.IdentifyOpportunities's
// per-calculator try/log/continue loop.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	lastExec   map[string]time.Time
	startedAt  time.Time
	log        zerolog.Logger
}

// New creates an empty Registry. startedAt is recorded immediately so
// every strategy's warm-up period is measured from process start.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		lastExec:   make(map[string]time.Time),
		startedAt:  time.Now(),
		log:        log.With().Str("component", "strategy_registry").Logger(),
	}
}

// Register adds a strategy, keyed by its ID.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
	r.log.Debug().Str("strategy", s.ID()).Msg("registered strategy")
}

// Get retrieves a strategy by ID.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy: not found: %s", id)
	}
	return s, nil
}

// List returns every registered strategy.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// enabled returns the registered strategies named in cfg.Strategies, in
// that order, warning on any name with no registration.
func (r *Registry) enabled(cfg config.Config) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		s, ok := r.strategies[name]
		if !ok {
			r.log.Warn().Str("strategy", name).Msg("enabled strategy not found in registry")
			continue
		}
		out = append(out, s)
	}
	return out
}

// RunReady calls Analyze on every enabled, ready strategy for this tick
// and returns the opportunities that came back non-void. A strategy that
// errors is logged and skipped; one whose Analyze panics is recovered,
// logged, and removed from the registry. Neither aborts the others
// (spec.md §9: strategies run independently under the scheduler).
func (r *Registry) RunReady(now time.Time, tick domain.BlockTick, observationFor func(id string) Observation, snap Snapshots, cfg config.Config) []domain.Opportunity {
	var opportunities []domain.Opportunity

	if now.Sub(r.startedAt) < cfg.StrategyWarmup {
		return nil
	}

	for _, s := range r.enabled(cfg) {
		r.mu.Lock()
		last := r.lastExec[s.ID()]
		r.mu.Unlock()

		if !s.IsReady(now, last, cfg) {
			continue
		}

		obs := observationFor(s.ID())
		if obs == nil {
			continue
		}

		var result domain.Result[domain.Opportunity]
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.mu.Lock()
					delete(r.strategies, s.ID())
					r.mu.Unlock()
					result = domain.Fail[domain.Opportunity](fmt.Errorf("strategy: analyze panicked, strategy removed: %v", p))
				}
			}()
			result = s.Analyze(tick, obs, snap)
		}()

		r.mu.Lock()
		r.lastExec[s.ID()] = now
		r.mu.Unlock()

		if result.IsFailure() {
			r.log.Error().Err(result.Err).Str("strategy", s.ID()).Msg("strategy analyze failed")
			continue
		}
		if result.Void {
			continue
		}
		opportunities = append(opportunities, result.Value)
	}

	return opportunities
}
