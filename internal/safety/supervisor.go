// Package safety implements the safety supervisor (spec.md §4.8): ten
// independent breakers feeding one global triggered state, a monotone
// risk-level projection driven by published incidents, and the
// emergency/recovery procedures. This is the single source of truth for
// circuit-breaking — SPEC_FULL §9 (REDESIGN FLAGS) removes the teacher's
// duplicate CircuitBreaker/SafetyCoordinator path in favor of one
// Supervisor.
//
// Grounded on aristath-sentinel/trader/internal/reliability's AlertLevel
// constants, Alert struct, and MonitoringService's addAlert/check*
// pattern (independent predicate checks that each append to one alert
// list), generalized from database-health checks to trading breakers.
package safety

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/rs/zerolog"
)

// Canceler rebroadcasts a self-pay transaction at a gas-price multiple to
// displace a pending transaction, used by the emergency procedure.
type Canceler interface {
	CancelPending(tx domain.PendingTx, gasPriceMultiplier *big.Rat) error
}

// StatePersister durably records and recovers the in-flight pending-tx
// set across restarts (spec.md §4.8: "persist the in-flight set to a
// durable state file... on restart, that state file puts the system in
// recovery mode").
type StatePersister interface {
	SaveEmergencyState(txs []domain.PendingTx) error
	LoadEmergencyState() ([]domain.PendingTx, bool, error)
	ClearEmergencyState() error
}

// Metrics is the rolling state every breaker reads and the daily reset
// zeroes (except Triggered/Reason, spec.md §4.8).
type Metrics struct {
	PositionInFlight *big.Int
	GasSpentToday    *big.Int
	PnLToday         *big.Int
	Submissions      []time.Time
	Triggered        bool
	Reason           string
}

func newMetrics() Metrics {
	return Metrics{
		PositionInFlight: big.NewInt(0),
		GasSpentToday:    big.NewInt(0),
		PnLToday:         big.NewInt(0),
	}
}

// RiskLevel is the monotone projection from spec.md §4.8.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ExitFunc terminates the process; overridable in tests. New substitutes a
// no-op when given nil; cmd/server passes one that calls os.Exit(1),
// matching spec.md §4.8's "FATAL additionally
// requests process exit after notifications flush."
type ExitFunc func()

// Supervisor is the single gate every side effect passes through.
type Supervisor struct {
	mu       sync.Mutex
	metrics  Metrics
	riskRank int

	cfg       config.Config
	resource  ResourceProbe
	canceler  Canceler
	persister StatePersister
	bus       *events.Manager
	exit      ExitFunc
	log       zerolog.Logger

	recoveryMode bool
}

// New constructs a Supervisor. If a persisted emergency state file is
// found, the Supervisor boots directly into recovery mode (spec.md §4.8).
func New(cfg config.Config, resource ResourceProbe, canceler Canceler, persister StatePersister, bus *events.Manager, exit ExitFunc, log zerolog.Logger) *Supervisor {
	if exit == nil {
		exit = func() {}
	}
	s := &Supervisor{
		metrics:   newMetrics(),
		cfg:       cfg,
		resource:  resource,
		canceler:  canceler,
		persister: persister,
		bus:       bus,
		exit:      exit,
		log:       log.With().Str("component", "safety_supervisor").Logger(),
	}

	if persister != nil {
		if _, found, err := persister.LoadEmergencyState(); err == nil && found {
			s.recoveryMode = true
			s.log.Warn().Msg("emergency state file found at startup, entering recovery mode")
		}
	}

	return s
}

// InRecoveryMode reports whether strategies are gated off pending an
// explicit operator clear (spec.md §4.8).
func (s *Supervisor) InRecoveryMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveryMode
}

// ClearRecoveryMode is the operator action that lets strategies resume.
func (s *Supervisor) ClearRecoveryMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryMode = false
	if s.persister != nil {
		return s.persister.ClearEmergencyState()
	}
	return nil
}

// IsTriggered reports the global triggered state; every gated operation
// must check this before proceeding (spec.md §4.8).
func (s *Supervisor) IsTriggered() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.Triggered, s.metrics.Reason
}

// Reset explicitly clears the triggered state. It does not touch
// recovery mode or risk level.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Triggered = false
	s.metrics.Reason = ""
	s.log.Info().Msg("safety supervisor reset")
}

// DailyReset zeroes position, gas-spend, PnL, and the sliding window,
// preserving Triggered (spec.md §4.8).
func (s *Supervisor) DailyReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	triggered, reason := s.metrics.Triggered, s.metrics.Reason
	s.metrics = newMetrics()
	s.metrics.Triggered = triggered
	s.metrics.Reason = reason
	s.log.Info().Msg("daily safety metrics reset")
}

// Snapshot returns a copy of the current metrics, safe for a caller (the
// control-surface /metrics endpoint) to read without racing the
// submission/settlement goroutines that mutate them.
func (s *Supervisor) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		PositionInFlight: new(big.Int).Set(s.metrics.PositionInFlight),
		GasSpentToday:    new(big.Int).Set(s.metrics.GasSpentToday),
		PnLToday:         new(big.Int).Set(s.metrics.PnLToday),
		Submissions:      append([]time.Time(nil), s.metrics.Submissions...),
		Triggered:        s.metrics.Triggered,
		Reason:           s.metrics.Reason,
	}
}

// RiskLevel returns the current monotone risk projection (spec.md §4.8).
func (s *Supervisor) RiskLevel() RiskLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.riskRank >= events.LevelCritical.Rank():
		return RiskHigh
	case s.riskRank >= events.LevelWarning.Rank():
		return RiskMedium
	default:
		return RiskLow
	}
}

// Observe feeds a published incident into the risk-level projection and,
// for CRITICAL/FATAL incidents, trips the global breaker and runs the
// emergency procedure.
func (s *Supervisor) Observe(incident events.Incident) {
	s.mu.Lock()
	if incident.Level.Rank() > s.riskRank {
		s.riskRank = incident.Level.Rank()
	}
	s.mu.Unlock()

	if incident.Level == events.LevelCritical || incident.Level == events.LevelFatal {
		s.trip(incident.Reason)
		s.emergency(incident)
	}
	if incident.Level == events.LevelFatal {
		s.exit()
	}
}

// trip sets the global triggered state if it isn't already set.
func (s *Supervisor) trip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics.Triggered {
		return
	}
	s.metrics.Triggered = true
	s.metrics.Reason = reason
	s.log.Error().Str("reason", reason).Msg("safety supervisor tripped")
}

// emergency is the notification step of the emergency procedure: it
// publishes an "emergency procedure" incident at the triggering
// incident's level. It does not cancel or persist the in-flight set;
// CancelInFlight does both, and emergency does not call it.
func (s *Supervisor) emergency(incident events.Incident) {
	if s.bus != nil {
		s.bus.Publish(incident.Level, incident.Component, fmt.Sprintf("emergency procedure: %s", incident.Reason), incident.Metadata)
	}
}

// CancelInFlight attempts to displace every given pending transaction by
// rebroadcasting a self-pay at 150% of its gas price, and persists
// whatever remains to the state file (spec.md §4.8). Individual
// cancellation failures are logged and do not stop the rest.
func (s *Supervisor) CancelInFlight(txs []domain.PendingTx) {
	multiplier := big.NewRat(3, 2) // 150%
	var remaining []domain.PendingTx

	for _, tx := range txs {
		if s.canceler == nil {
			remaining = append(remaining, tx)
			continue
		}
		if err := s.canceler.CancelPending(tx, multiplier); err != nil {
			s.log.Error().Err(err).Str("tx", fmt.Sprintf("%x", tx.Hash)).Msg("failed to cancel in-flight transaction")
			remaining = append(remaining, tx)
		}
	}

	if s.persister != nil {
		if err := s.persister.SaveEmergencyState(remaining); err != nil {
			s.log.Error().Err(err).Msg("failed to persist emergency state")
		}
	}
}
