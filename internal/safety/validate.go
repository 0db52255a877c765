package safety

import (
	"math/big"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
)

// TxCheck carries everything the aggregate ValidateTx call needs to run
// the breakers that apply before submission (spec.md §4.8: "every gated
// operation (validate_tx, submit, strategy start) fails until an
// explicit reset").
type TxCheck struct {
	To              domain.Address
	Value           *big.Int
	GasPrice        *big.Int
	GasCost         *big.Int
	ExpectedProfit  *big.Int
	BaseFeeWei      uint64
	LastBlockAge    time.Duration
	Now             time.Time
}

// ValidateTx runs every breaker that can be checked pre-submission and
// returns the first one that trips (spec.md §4.8's breaker table, minus
// slippage and daily-loss which are only observable after simulate/fill).
// If the supervisor is already triggered or in recovery mode, it fails
// immediately without re-running the individual checks.
func (s *Supervisor) ValidateTx(tc TxCheck) error {
	if triggered, reason := s.IsTriggered(); triggered {
		return trip("triggered", reason)
	}
	if s.InRecoveryMode() {
		return trip("recovery-mode", "system is in recovery mode pending operator clear")
	}

	if err := s.CheckResource(); err != nil {
		return err
	}
	if err := s.CheckNetwork(tc.BaseFeeWei, tc.LastBlockAge); err != nil {
		return err
	}
	if err := s.CheckWhitelist(tc.To); err != nil {
		return err
	}
	if err := s.CheckGasPrice(tc.GasPrice); err != nil {
		return err
	}
	if err := s.CheckPositionSize(tc.Value); err != nil {
		return err
	}
	if err := s.CheckDailyGas(tc.GasCost); err != nil {
		return err
	}
	if err := s.CheckTxRate(tc.Now); err != nil {
		return err
	}
	if err := s.CheckMinProfit(tc.ExpectedProfit); err != nil {
		return err
	}
	return nil
}

// RecordSubmission updates the rolling metrics after a bundle actually
// goes out: position grows by value, gas-spend grows by cost, and the
// submission timestamp joins the sliding window.
func (s *Supervisor) RecordSubmission(value, gasCost *big.Int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PositionInFlight.Add(s.metrics.PositionInFlight, value)
	s.metrics.GasSpentToday.Add(s.metrics.GasSpentToday, gasCost)
	s.metrics.Submissions = append(s.metrics.Submissions, now)
}

// RecordSettlement releases in-flight position once a bundle's fate is
// known (included or dropped) and applies its realized PnL.
func (s *Supervisor) RecordSettlement(value, realizedPnL *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PositionInFlight.Sub(s.metrics.PositionInFlight, value)
	if s.metrics.PositionInFlight.Sign() < 0 {
		s.metrics.PositionInFlight.SetInt64(0)
	}
	s.metrics.PnLToday.Add(s.metrics.PnLToday, realizedPnL)
}
